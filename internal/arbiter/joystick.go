package arbiter

import (
	"fmt"
	"strconv"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/rndmzd/laser-turret/internal/obslog"
)

// JoystickSample is one decoded remote-input reading.
type JoystickSample struct {
	X, Y     float64
	JoyBtn   bool
	LaserBtn bool
	Power    int
}

// parseJoystickLine decodes the wire format "x,y,joy_btn,laser_btn,power",
// returning an error for anything that doesn't validate.
func parseJoystickLine(line string) (JoystickSample, error) {
	fields := strings.Split(strings.TrimSpace(line), ",")
	if len(fields) != 5 {
		return JoystickSample{}, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	x, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return JoystickSample{}, fmt.Errorf("parse x: %w", err)
	}
	y, err := strconv.ParseFloat(fields[1], 64)
	if err != nil {
		return JoystickSample{}, fmt.Errorf("parse y: %w", err)
	}
	if x < -100 || x > 100 || y < -100 || y > 100 {
		return JoystickSample{}, fmt.Errorf("x/y out of range: %v,%v", x, y)
	}

	joyBtn, err := strconv.ParseBool(fields[2])
	if err != nil {
		return JoystickSample{}, fmt.Errorf("parse joy_btn: %w", err)
	}
	laserBtn, err := strconv.ParseBool(fields[3])
	if err != nil {
		return JoystickSample{}, fmt.Errorf("parse laser_btn: %w", err)
	}

	power, err := strconv.Atoi(fields[4])
	if err != nil {
		return JoystickSample{}, fmt.Errorf("parse power: %w", err)
	}
	if power < 0 || power > 100 {
		return JoystickSample{}, fmt.Errorf("power out of range: %d", power)
	}

	return JoystickSample{X: x, Y: y, JoyBtn: joyBtn, LaserBtn: laserBtn, Power: power}, nil
}

// MQTTConfig selects the broker and topic the joystick feed subscribes to.
type MQTTConfig struct {
	Broker string
	Topic  string
	Port   int
}

// JoystickFeed subscribes to an MQTT topic carrying CSV joystick samples
// and forwards decoded, valid samples to the arbiter.
type JoystickFeed struct {
	client mqtt.Client
	cfg    MQTTConfig
}

// NewJoystickFeed connects to cfg.Broker and subscribes cfg.Topic,
// dispatching every valid decoded sample to a.HandleJoystick. Malformed
// payloads are dropped with a warning; the idle watchdog is unaffected
// by dropped messages.
func NewJoystickFeed(a *Arbiter, cfg MQTTConfig) (*JoystickFeed, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.Broker, cfg.Port))
	opts.SetClientID("laser-turret-arbiter")
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	opts.SetDefaultPublishHandler(func(c mqtt.Client, msg mqtt.Message) {})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}

	f := &JoystickFeed{client: client, cfg: cfg}

	token := client.Subscribe(cfg.Topic, 0, func(c mqtt.Client, msg mqtt.Message) {
		sample, err := parseJoystickLine(string(msg.Payload()))
		if err != nil {
			obslog.L().Warn("joystick_malformed", zap.Error(err), zap.String("payload", string(msg.Payload())))
			return
		}
		a.HandleJoystick(sample)
	})
	if token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("mqtt subscribe: %w", token.Error())
	}

	return f, nil
}

// Close disconnects from the broker.
func (f *JoystickFeed) Close() {
	f.client.Unsubscribe(f.cfg.Topic)
	f.client.Disconnect(250)
}
