// Package auth produces the authorization token and channel data required
// to subscribe private and presence channels.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	wavesock "github.com/wavesock/wavesock-go"
)

// Result is the outcome of authorizing one channel subscription.
type Result struct {
	// Auth is the "<key>:<hex signature>" token included in the subscribe
	// frame.
	Auth string

	// ChannelData is the JSON string identifying the local user, present
	// for presence channels.
	ChannelData string
}

// Authorizer produces subscription credentials for one channel given the
// socket id issued at handshake. Implementations may block on network I/O;
// the connection invokes them on a separate goroutine.
type Authorizer interface {
	Authorize(socketID string, channelName string) (*Result, error)
}

const requestTimeout = 10 * time.Second

// New builds the Authorizer matching the configured auth method.
func New(appKey string, opts *wavesock.Options) Authorizer {
	logger := opts.Log().With().Str("component", "auth").Logger()
	switch m := opts.Auth.(type) {
	case wavesock.AuthEndpoint:
		return &endpointAuthorizer{
			url:     m.URL,
			headers: m.Headers,
			client:  resty.New().SetTimeout(requestTimeout),
			log:     logger,
		}
	case wavesock.AuthRequestBuilder:
		return &requestBuilderAuthorizer{
			build:  m.Build,
			client: resty.New().SetTimeout(requestTimeout),
			log:    logger,
		}
	case wavesock.AuthInlineSecret:
		return &secretAuthorizer{
			appKey:   appKey,
			secret:   m.Secret,
			userData: opts.UserData,
		}
	default:
		return noneAuthorizer{}
	}
}

// noneAuthorizer rejects every restricted subscription.
type noneAuthorizer struct{}

func (noneAuthorizer) Authorize(socketID, channelName string) (*Result, error) {
	return nil, &wavesock.AuthError{ChannelName: channelName, Err: wavesock.ErrAuthMissing}
}

// authResponse is the JSON body the auth endpoint contract specifies.
type authResponse struct {
	Auth        string `json:"auth"`
	ChannelData string `json:"channel_data"`
}

// endpointAuthorizer POSTs socket_id and channel_name as an urlencoded form
// and parses the JSON response.
type endpointAuthorizer struct {
	url     string
	headers http.Header
	client  *resty.Client
	log     zerolog.Logger
}

func (a *endpointAuthorizer) Authorize(socketID, channelName string) (*Result, error) {
	req := a.client.R().
		SetFormData(map[string]string{
			"socket_id":    socketID,
			"channel_name": channelName,
		})
	for name, values := range a.headers {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}

	resp, err := req.Post(a.url)
	if err != nil {
		a.log.Warn().Str("channel", channelName).Err(err).Msg("auth request failed")
		return nil, &wavesock.AuthError{ChannelName: channelName, Err: err}
	}
	return parseAuthResponse(channelName, resp.StatusCode(), resp.Body(), a.log)
}

// requestBuilderAuthorizer executes a user-supplied request; response
// parsing is shared with the endpoint strategy.
type requestBuilderAuthorizer struct {
	build  func(socketID, channelName string) (*http.Request, error)
	client *resty.Client
	log    zerolog.Logger
}

func (a *requestBuilderAuthorizer) Authorize(socketID, channelName string) (*Result, error) {
	req, err := a.build(socketID, channelName)
	if err != nil {
		return nil, &wavesock.AuthError{ChannelName: channelName, Err: fmt.Errorf("building auth request: %w", err)}
	}

	resp, err := a.client.GetClient().Do(req)
	if err != nil {
		a.log.Warn().Str("channel", channelName).Err(err).Msg("auth request failed")
		return nil, &wavesock.AuthError{ChannelName: channelName, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &wavesock.AuthError{ChannelName: channelName, Err: err}
	}
	return parseAuthResponse(channelName, resp.StatusCode, body, a.log)
}

func parseAuthResponse(channelName string, status int, body []byte, log zerolog.Logger) (*Result, error) {
	if status < 200 || status >= 300 {
		log.Warn().Str("channel", channelName).Int("status", status).Msg("auth endpoint rejected request")
		return nil, &wavesock.AuthError{ChannelName: channelName, Status: status, Body: string(body)}
	}
	var ar authResponse
	if err := json.Unmarshal(body, &ar); err != nil {
		return nil, &wavesock.AuthError{ChannelName: channelName, Status: status, Body: string(body), Err: err}
	}
	if ar.Auth == "" {
		return nil, &wavesock.AuthError{ChannelName: channelName, Status: status, Body: string(body), Err: fmt.Errorf("auth endpoint response is missing the auth token")}
	}
	return &Result{Auth: ar.Auth, ChannelData: ar.ChannelData}, nil
}

// secretAuthorizer signs subscriptions in-process with the app secret.
type secretAuthorizer struct {
	appKey   string
	secret   string
	userData wavesock.UserDataProvider
}

func (a *secretAuthorizer) Authorize(socketID, channelName string) (*Result, error) {
	var channelData string
	if wavesock.KindOfChannel(channelName) == wavesock.ChannelPresence {
		data, err := a.channelData(socketID)
		if err != nil {
			return nil, &wavesock.AuthError{ChannelName: channelName, Err: err}
		}
		channelData = data
	}

	signing := socketID + ":" + channelName
	if channelData != "" {
		signing += ":" + channelData
	}

	mac := hmac.New(sha256.New, []byte(a.secret))
	mac.Write([]byte(signing))
	signature := hex.EncodeToString(mac.Sum(nil))

	return &Result{
		Auth:        strings.ToLower(a.appKey + ":" + signature),
		ChannelData: channelData,
	}, nil
}

func (a *secretAuthorizer) channelData(socketID string) (string, error) {
	user := wavesock.UserData{UserID: socketID}
	if a.userData != nil {
		user = a.userData()
	}
	raw, err := json.Marshal(user)
	if err != nil {
		return "", fmt.Errorf("encoding user data: %w", err)
	}
	return string(raw), nil
}
