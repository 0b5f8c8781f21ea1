package actor

import (
	"encoding/json"
	"fmt"
	"time"

	"v2gbridge/internal/config"
	"v2gbridge/internal/core/domain"
	"v2gbridge/internal/mqtt"
	"v2gbridge/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTActor owns the broker connection. It publishes sensor state and HA
// discovery documents and forwards parsed command topics to its parent.
type MQTTActor struct {
	config   *config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash
	client   *mqtt.MQTTClient
	logger   *zap.Logger
}

type MQTTConnected struct {
}

type MQTTSubscribed struct {
}

type MQTTConnectionLost struct {
	Error error
}

// publishResult closes one in-flight publish. makeResponse builds the
// typed ack for replyTo when the requester asked for one.
type publishResult struct {
	replyTo      *actor.PID
	makeResponse func(error) any
	err          error
}

type ParsedCommand struct {
	Command *mqtt.ParsedMQTTCommand
}

type outboundMessage struct {
	topic   string
	payload string
	retain  bool
}

func NewMQTTActor(config *config.Config, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:   config,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), func(_ pahomqtt.Client) {
		}, func(_ pahomqtt.Client, err error) {
			ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
		})

		state.client.Connect(func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTConnected{})
			}
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Debug("mqtt@starting connected")

		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_ONLINE, 0, true, func(error) {}, 500*time.Millisecond)

		// switch and number commands plus the schedule set topic
		state.client.SubscribeToCommandTopic(func(c pahomqtt.Client, m pahomqtt.Message) {
			cmd, err := state.client.ParseMQTTCommand(m)
			if err == nil && cmd != nil {
				ctx.Send(ctx.Self(), ParsedCommand{Command: cmd})
			}
		}, func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			} else {
				ctx.Send(ctx.Self(), MQTTSubscribed{})
			}
		}, 1*time.Second)
	case MQTTSubscribed:
		state.logger.Debug("mqtt@starting subscribed")
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// let the supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case ParsedCommand:
		// commands are routed by the master
		state.logger.Debug("mqtt@default parsedCommand", zap.Any("command", msg.Command))
		ctx.Send(ctx.Parent(), msg)
	case domain.PublishMessageRequest:
		state.logger.Debug("mqtt@default PublishMessageRequest", zap.Any("message", msg))
		state.publish(ctx, outboundMessage{topic: msg.Topic, payload: msg.Payload, retain: msg.Retain},
			actorutil.ForRequest(msg).ReplyTo(ctx), func(err error) any {
				return domain.PublishMessageResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
				}
			})
	case domain.PublishSensorUpdateRequest:
		state.logger.Debug("mqtt@default PublishSensorUpdateRequest", zap.String("type", fmt.Sprintf("%T", msg.Event)))
		if out := state.sensorEventToMessage(msg.Event); out != nil {
			out.retain = out.retain || msg.Retain
			state.publish(ctx, *out, actorutil.ForRequest(msg).ReplyTo(ctx), func(err error) any {
				return domain.PublishSensorUpdateResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
				}
			})
		}
	case domain.PublishDiscoveryRequest:
		state.logger.Debug("mqtt@default PublishHADiscovery")
		err := state.PublishHomeAssistantDiscovery(ctx, msg.Sensors, msg.Switches, msg.InputNumbers)
		if err != nil {
			state.logger.Error("mqtt@default PublishHADiscovery error", zap.Error(err))
		}
	case MQTTConnectionLost:
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// sensorEventToMessage maps an update event to its state topic and wire
// payload. Switch and number states are retained so HA restarts pick
// them up.
func (state *MQTTActor) sensorEventToMessage(event any) *outboundMessage {
	switch msg := event.(type) {
	case domain.FloatSensorUpdateEvent:
		return &outboundMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			payload: fmt.Sprintf(fmt.Sprintf("%%.%df", msg.Decimals), msg.Value),
		}
	case domain.BinarySensorUpdateEvent:
		return &outboundMessage{
			topic:   state.client.BinarySensorStateTopic(msg.Id),
			payload: bool2MQTTPayload(msg.Value),
		}
	case domain.SwitchSensorUpdateEvent:
		return &outboundMessage{
			topic:   state.client.SwitchStateTopic(msg.Id),
			payload: bool2MQTTPayload(msg.Value),
			retain:  true,
		}
	case domain.InputNumberSensorUpdateEvent:
		return &outboundMessage{
			topic:   state.client.InputNumberStateTopic(msg.Id),
			payload: fmt.Sprintf(fmt.Sprintf("%%.%df", msg.Decimals), msg.Value),
			retain:  true,
		}
	case domain.TextSensorUpdateEvent:
		return &outboundMessage{
			topic:   state.client.SensorStateTopic(msg.Id),
			payload: msg.Value,
		}
	case domain.BridgeStateUpdateEvent:
		payload := mqtt.MQTT_PAYLOAD_OFFLINE
		if msg.Value {
			payload = mqtt.MQTT_PAYLOAD_ONLINE
		}
		return &outboundMessage{
			topic:   state.client.BridgeStateTopic(),
			payload: payload,
		}
	default:
		return nil
	}
}

// publish sends one message and stacks into PublishResultReceive until
// the broker acks or the publish times out.
func (state *MQTTActor) publish(ctx actor.Context, out outboundMessage, replyTo *actor.PID, makeResponse func(error) any) {
	state.logger.Sugar().Debugf("mqtt@publish: %s => %s", out.topic, out.payload)
	state.client.Publish(out.topic, out.payload, 1, out.retain, func(err error) {
		ctx.Send(ctx.Self(), publishResult{replyTo: replyTo, makeResponse: makeResponse, err: err})
	}, 5*time.Second)
	state.behavior.BecomeStacked(state.PublishResultReceive)
}

func (state *MQTTActor) PublishResultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case publishResult:
		if msg.err != nil {
			state.logger.Error("mqtt@publishing could not publish a message", zap.Error(msg.err))
		}
		if msg.replyTo != nil && msg.makeResponse != nil {
			ctx.Send(msg.replyTo, msg.makeResponse(msg.err))
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashOldest(ctx)
	default:
		state.logger.Debug("mqtt@publishing stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) PublishHomeAssistantDiscovery(ctx actor.Context, sensors []domain.GenericSensor,
	switches []domain.GenericSwitch, inputNumbers []domain.GenericInputNumber) error {
	for i := range sensors {
		err := state.publishDiscoveryConfig(mqtt.HADiscoverySensorTopic(sensors[i]),
			mqtt.GenericSensorToHADiscoveryMessage(state.client, sensors[i]))
		if err != nil {
			return err
		}
	}
	for i := range switches {
		err := state.publishDiscoveryConfig(mqtt.HADiscoverySwitchTopic(switches[i]),
			mqtt.GenericSwitchToHADiscoveryMessage(state.client, switches[i]))
		if err != nil {
			return err
		}
	}
	for i := range inputNumbers {
		err := state.publishDiscoveryConfig(mqtt.HADiscoveryInputNumberTopic(inputNumbers[i]),
			mqtt.GenericInputNumberToHADiscoveryMessage(state.client, inputNumbers[i]))
		if err != nil {
			return err
		}
	}
	return nil
}

func (state *MQTTActor) publishDiscoveryConfig(topic string, msg mqtt.HADiscoveryConfig) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	state.client.Publish(topic, payload, 0, true, func(error) {}, 1*time.Second)
	return nil
}

func (state *MQTTActor) stop() {
	state.logger.Debug("mqtt: disconnect")
	if state.client != nil {
		state.client.Publish(state.client.BridgeStateTopic(), mqtt.MQTT_PAYLOAD_OFFLINE, 0, true, func(error) {}, 500*time.Millisecond)
		state.client.Disconnect(500 * time.Millisecond)
	}
}

func bool2MQTTPayload(value bool) string {
	if value {
		return mqtt.MQTT_PAYLOAD_ON
	}
	return mqtt.MQTT_PAYLOAD_OFF
}

// Dummy actor for tests: accepts publish requests and acks them without a
// broker connection.
func NewTestMQTTActor(config *config.Config, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:   config,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.DummyReceive)
	return act
}

func (state *MQTTActor) DummyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.client = mqtt.CreateMQTTClient(state.config, mqtt.OptsFromConfig(state.config), nil, nil)
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@dummy ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case domain.PublishSensorUpdateRequest:
		if msg.ReplyToRef != nil {
			ctx.Respond(domain.PublishSensorUpdateResponse{})
		}
	case domain.PublishMessageRequest:
		if msg.ReplyToRef != nil {
			ctx.Respond(domain.PublishMessageResponse{})
		}
	}
}
