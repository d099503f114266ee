// Package bridge pairs one carrier media stream with one AI agent stream and
// translates frames between them for the lifetime of a single call.
package bridge

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	gorillaws "github.com/fasthttp/websocket"
	fiberws "github.com/gofiber/contrib/websocket"
	"go.uber.org/zap"

	"github.com/acme/outbound-voice-orchestrator/internal/agent"
	"github.com/acme/outbound-voice-orchestrator/internal/domain"
	"github.com/acme/outbound-voice-orchestrator/internal/events"
	"github.com/acme/outbound-voice-orchestrator/internal/repository"
	"github.com/acme/outbound-voice-orchestrator/pkg/logger"
)

// Bridge wires one carrier WebSocket connection to one AI agent WebSocket
// connection.
type Bridge struct {
	agentProv  agent.Provider
	callStates repository.CallStateRepository
	bus        *events.Bus
	logger     *logger.Logger
}

// New constructs a Bridge.
func New(agentProv agent.Provider, callStates repository.CallStateRepository, bus *events.Bus, lg *logger.Logger) *Bridge {
	return &Bridge{agentProv: agentProv, callStates: callStates, bus: bus, logger: lg}
}

// carrier Media Streams protocol frames, inbound and outbound.
type carrierFrame struct {
	Event     string          `json:"event"`
	StreamSID string          `json:"streamSid,omitempty"`
	Start     *carrierStart   `json:"start,omitempty"`
	Media     *carrierMedia   `json:"media,omitempty"`
}

type carrierStart struct {
	StreamSID         string            `json:"streamSid"`
	CallSID           string            `json:"callSid"`
	CustomParameters  map[string]string `json:"customParameters"`
}

type carrierMedia struct {
	Payload string `json:"payload"`
}

// agent frame shapes, keyed by "type".
type agentFrameEnvelope struct {
	Type                             string                            `json:"type"`
	AudioEvent                       *agentAudioEvent                  `json:"audio_event,omitempty"`
	Audio                            *agentAudioAlt                    `json:"audio,omitempty"`
	PingEvent                        *agentPingEvent                   `json:"ping_event,omitempty"`
	ConversationInitiationMetadata   *agentConversationMetadataEvent   `json:"conversation_initiation_metadata_event,omitempty"`
}

type agentAudioEvent struct {
	AudioBase64 string `json:"audio_base_64"`
	EventID     int    `json:"event_id"`
}

type agentAudioAlt struct {
	Chunk string `json:"chunk"`
}

type agentPingEvent struct {
	EventID int `json:"event_id"`
}

type agentConversationMetadataEvent struct {
	ConversationID string `json:"conversation_id"`
}

// Handle runs the bridge for one carrier connection until either side
// closes. It is meant to be registered behind a fiber websocket upgrade:
//
//	app.Get("/outgoing/outbound-media-stream", fiberws.New(b.Handle))
func (b *Bridge) Handle(carrierConn *fiberws.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session, err := b.awaitStart(carrierConn)
	if err != nil {
		b.logger.Warn("bridge: did not receive carrier start frame", zap.Error(err))
		return
	}

	agentConn, err := b.dialAgent(ctx, session.CallID)
	if err != nil {
		b.logger.Error("bridge: dial agent failed", zap.Error(err))
		return
	}
	defer agentConn.Close()

	if err := b.sendInitiationFrame(agentConn, session); err != nil {
		b.logger.Error("bridge: send initiation frame failed", zap.Error(err))
		return
	}

	var once sync.Once
	abnormal := false
	closeBoth := func(reasonAbnormal bool) {
		once.Do(func() {
			if reasonAbnormal {
				abnormal = true
			}
			cancel()
			_ = carrierConn.Close()
			_ = agentConn.Close()
		})
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		b.pumpCarrierToAgent(carrierConn, agentConn, session, closeBoth)
	}()

	go func() {
		defer wg.Done()
		b.pumpAgentToCarrier(ctx, agentConn, carrierConn, session, closeBoth)
	}()

	wg.Wait()

	if abnormal {
		b.publish(context.Background(), events.Event{
			Type:   "bridge.abnormal_close",
			CallID: session.CallID,
			At:     time.Now().UTC(),
		})
	}
}

// dialAgent opens the agent WebSocket, trying the signed URL the initiator
// already fetched and persisted on the call state first, and falling back to
// a fresh FetchSignedURL only if that cached URL fails to dial (expired or
// never populated).
func (b *Bridge) dialAgent(ctx context.Context, callID string) (*gorillaws.Conn, error) {
	if state, err := b.callStates.Get(ctx, callID); err == nil && state.SignedURL != "" {
		conn, _, dialErr := gorillaws.DefaultDialer.DialContext(ctx, state.SignedURL, nil)
		if dialErr == nil {
			return conn, nil
		}
		b.logger.Warn("bridge: cached signed url dial failed, fetching a fresh one", zap.Error(dialErr))
	}

	signedURL, err := b.agentProv.FetchSignedURL(ctx)
	if err != nil {
		return nil, err
	}
	conn, _, err := gorillaws.DefaultDialer.DialContext(ctx, signedURL.URL, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (b *Bridge) awaitStart(carrierConn *fiberws.Conn) (domain.BridgeSession, error) {
	for {
		_, raw, err := carrierConn.ReadMessage()
		if err != nil {
			return domain.BridgeSession{}, err
		}
		var frame carrierFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}
		switch frame.Event {
		case "start":
			if frame.Start == nil {
				continue
			}
			ctx := buildContextFromParams(frame.Start.CustomParameters)
			return domain.BridgeSession{
				StreamSID: frame.Start.StreamSID,
				CallID:    frame.Start.CallSID,
				Context:   ctx,
			}, nil
		case "connected":
			continue
		default:
			continue
		}
	}
}

// extractAudioPayload unwraps an agent audio frame's base64 payload from
// whichever of the two known envelope shapes is populated.
func extractAudioPayload(env agentFrameEnvelope) (string, bool) {
	switch {
	case env.AudioEvent != nil:
		return env.AudioEvent.AudioBase64, true
	case env.Audio != nil:
		return env.Audio.Chunk, true
	default:
		return "", false
	}
}

func buildContextFromParams(p map[string]string) domain.BridgeContext {
	return domain.BridgeContext{
		FirstName:       p["firstName"],
		FullName:        p["fullName"],
		Email:           p["email"],
		Phone:           p["phone"],
		ContactID:       p["contactId"],
		FullAddress:     p["fullAddress"],
		IsAbruptRetry:   p["isAbruptRetry"] == "true",
		PastCallSummary: p["pastCallSummary"],
		OriginalConvID:  p["originalConvId"],
	}
}

func (b *Bridge) sendInitiationFrame(agentConn *gorillaws.Conn, session domain.BridgeSession) error {
	payload := map[string]any{
		"type": "conversation_initiation_client_data",
		"conversation_config_override": map[string]any{
			"agent": map[string]any{},
		},
		"dynamic_variables": session.Context.DynamicVariables(),
	}
	if session.Context.IsAbruptRetry {
		payload["dynamic_variables"].(map[string]any)["past_call_summary"] = session.Context.PastCallSummary
		payload["dynamic_variables"].(map[string]any)["original_conversation_id"] = session.Context.OriginalConvID
		payload["first_message_override"] = "Picking up where we left off."
	}
	return agentConn.WriteJSON(payload)
}

func (b *Bridge) pumpCarrierToAgent(carrierConn *fiberws.Conn, agentConn *gorillaws.Conn, session domain.BridgeSession, closeBoth func(bool)) {
	for {
		_, raw, err := carrierConn.ReadMessage()
		if err != nil {
			closeBoth(!isNormalCarrierClose(err))
			return
		}

		var frame carrierFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue
		}

		switch frame.Event {
		case "media":
			if frame.Media == nil {
				continue
			}
			out := map[string]any{
				"user_audio_chunk": frame.Media.Payload,
			}
			if err := agentConn.WriteJSON(out); err != nil {
				closeBoth(true)
				return
			}
		case "stop":
			closeBoth(false)
			return
		default:
		}
	}
}

func (b *Bridge) pumpAgentToCarrier(ctx context.Context, agentConn *gorillaws.Conn, carrierConn *fiberws.Conn, session domain.BridgeSession, closeBoth func(bool)) {
	for {
		_, raw, err := agentConn.ReadMessage()
		if err != nil {
			closeBoth(!isNormalAgentClose(err))
			return
		}

		var env agentFrameEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		switch env.Type {
		case "audio":
			payload, ok := extractAudioPayload(env)
			if !ok {
				continue
			}
			out := carrierFrame{
				Event:     "media",
				StreamSID: session.StreamSID,
				Media:     &carrierMedia{Payload: payload},
			}
			raw, err := json.Marshal(out)
			if err != nil {
				continue
			}
			if err := carrierConn.WriteMessage(fiberws.TextMessage, raw); err != nil {
				closeBoth(true)
				return
			}
		case "interruption":
			out := carrierFrame{Event: "clear", StreamSID: session.StreamSID}
			raw, err := json.Marshal(out)
			if err != nil {
				continue
			}
			if err := carrierConn.WriteMessage(fiberws.TextMessage, raw); err != nil {
				closeBoth(true)
				return
			}
		case "ping":
			if env.PingEvent == nil {
				continue
			}
			pong := map[string]any{
				"type": "pong",
				"event_id": env.PingEvent.EventID,
			}
			if err := agentConn.WriteJSON(pong); err != nil {
				closeBoth(true)
				return
			}
		case "conversation_initiation_metadata":
			if env.ConversationInitiationMetadata == nil {
				continue
			}
			if err := b.callStates.UpdateConversationID(ctx, session.CallID, env.ConversationInitiationMetadata.ConversationID); err != nil {
				b.logger.Warn("bridge: persist conversation id failed", zap.Error(err))
			}
		default:
		}
	}
}

func (b *Bridge) publish(ctx context.Context, ev events.Event) {
	if err := b.bus.Publish(ctx, ev); err != nil {
		b.logger.Warn("bridge: publish event failed")
	}
}

func isNormalCarrierClose(err error) bool {
	return gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure, gorillaws.CloseNoStatusReceived)
}

func isNormalAgentClose(err error) bool {
	return gorillaws.IsCloseError(err, gorillaws.CloseNormalClosure, gorillaws.CloseNoStatusReceived)
}
