package twilio

import (
	"time"

	"github.com/campuskit/sentinel/server/logger"
	"github.com/campuskit/sentinel/shared"
	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Cap on how long a single SMS dispatch can take. A timed-out send counts
// as a failed send, nothing more.
const sendTimeout = 15 * time.Second

var logg = logger.NewLogger()

type ClientWrapper struct {
	client   *twilio.RestClient
	config   shared.TwilioConfig
	testMode bool
}

func NewClient(config shared.TwilioConfig, testMode bool) *ClientWrapper {
	client := twilio.NewRestClientWithParams(twilio.RestClientParams{
		Username: config.AccountSid,
		Password: config.AuthToken,
	})

	// A timed-out send is just a failed send, it must never hold up
	// the alert fan-out loop.
	client.Client.SetTimeout(sendTimeout)

	return &ClientWrapper{
		client:   client,
		config:   config,
		testMode: testMode,
	}
}

func (cw *ClientWrapper) SendMessage(to, msg string) error {
	if cw.testMode {
		logg.Infof("[test mode] sms to %v: %v", to, msg)
		return nil
	}

	params := &openapi.CreateMessageParams{}
	params.SetMessagingServiceSid(cw.config.MessagingServiceSid)
	params.SetTo(to)
	params.SetBody(msg)

	resp, err := cw.client.ApiV2010.CreateMessage(params)
	if err != nil {
		return err
	}

	if resp.ErrorMessage != nil && *resp.ErrorMessage != "" {
		logg.Warnf("twilio accepted message to %v with error: %v", to, *resp.ErrorMessage)
	}

	return nil
}
