package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/teresa-solution/whatsapp-instance-service/internal/model"
	"github.com/teresa-solution/whatsapp-instance-service/internal/provider"
)

const (
	qrSourceImage  = "direct_image"
	qrSourceString = "raw_string"
	qrSourcePoll   = "poll"
)

// qrExtractor pulls a normalized payload out of a provider QR response.
type qrExtractor struct {
	source  string
	extract func(o *Orchestrator, p *provider.QRPayload) (string, bool)
}

// payloadExtractors is the order in which a single QR response is read:
// a pre-rendered image wins over a raw string that still needs rendering.
var payloadExtractors = []qrExtractor{
	{qrSourceImage, func(o *Orchestrator, p *provider.QRPayload) (string, bool) {
		if p == nil || strings.TrimSpace(p.Base64) == "" {
			return "", false
		}
		return o.normalizer.FromImage(p.Base64), true
	}},
	{qrSourceString, func(o *Orchestrator, p *provider.QRPayload) (string, bool) {
		if p == nil || strings.TrimSpace(p.Code) == "" {
			return "", false
		}
		return o.normalizer.FromText(p.Code), true
	}},
}

type qrAttempt struct {
	instanceName string
	connect      *provider.QRPayload
}

// qrStrategy yields a payload, reports it has none, or fails the protocol.
type qrStrategy struct {
	source string
	run    func(ctx context.Context, o *Orchestrator, a *qrAttempt) (string, bool, error)
}

// qrStrategies is the fallback order of the acquisition protocol:
// direct image, raw string, one delayed poll, then failure.
var qrStrategies = []qrStrategy{
	{qrSourceImage, fromConnect(payloadExtractors[0])},
	{qrSourceString, fromConnect(payloadExtractors[1])},
	{qrSourcePoll, pollConnectionState},
}

// QRStrategyOrder lists the acquisition strategies in the order they are tried.
func QRStrategyOrder() []string {
	order := make([]string, len(qrStrategies))
	for i, s := range qrStrategies {
		order[i] = s.source
	}
	return order
}

func fromConnect(e qrExtractor) func(context.Context, *Orchestrator, *qrAttempt) (string, bool, error) {
	return func(_ context.Context, o *Orchestrator, a *qrAttempt) (string, bool, error) {
		code, ok := e.extract(o, a.connect)
		return code, ok, nil
	}
}

func pollConnectionState(ctx context.Context, o *Orchestrator, a *qrAttempt) (string, bool, error) {
	log.Debug().Str("instance_name", a.instanceName).Dur("grace", o.cfg.QRGraceInterval).
		Msg("No immediate QR, polling connection state")
	if err := o.sleep(ctx, o.cfg.QRGraceInterval); err != nil {
		return "", false, err
	}

	state, err := o.provider.ConnectionState(ctx, a.instanceName)
	if err != nil {
		return "", false, err
	}
	for _, e := range payloadExtractors {
		if code, ok := e.extract(o, state.Instance.QRCode); ok {
			return code, true, nil
		}
	}
	return "", false, nil
}

// acquireQR runs the acquisition protocol and returns the normalized payload
// with the strategy that produced it.
func (o *Orchestrator) acquireQR(ctx context.Context, instanceName string) (string, string, error) {
	connect, err := o.provider.Connect(ctx, instanceName)
	if err != nil {
		return "", "", err
	}

	attempt := &qrAttempt{instanceName: instanceName, connect: connect}
	for _, s := range qrStrategies {
		code, ok, err := s.run(ctx, o, attempt)
		if err != nil {
			return "", s.source, err
		}
		if ok && code != "" {
			return code, s.source, nil
		}
	}
	return "", "", fmt.Errorf("%w: no QR code in connect or connection state response for %s", model.ErrQRNotAvailable, instanceName)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
