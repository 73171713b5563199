package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hipsterbrown/cds55xx-servo/cds55xx"
	"github.com/hipsterbrown/cds55xx-servo/internal/config"
	"github.com/hipsterbrown/cds55xx-servo/transports"
)

type fakeMessage struct {
	mqtt.Message
	topic   string
	payload []byte
}

func (m *fakeMessage) Topic() string   { return m.topic }
func (m *fakeMessage) Payload() []byte { return m.payload }

type fakeToken struct {
	mqtt.Token
	err error
}

func (t *fakeToken) Wait() bool   { return true }
func (t *fakeToken) Error() error { return t.err }

type fakeSubscriber struct {
	topic   string
	qos     byte
	handler mqtt.MessageHandler
	err     error
}

func (s *fakeSubscriber) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	s.topic, s.qos, s.handler = topic, qos, callback
	return &fakeToken{err: s.err}
}

func intp(v int) *int { return &v }

func newTestBridge(t *testing.T, queueSize int) (*Bridge, *transports.MockTransport, *observer.ObservedLogs) {
	t.Helper()
	mock := &transports.MockTransport{}
	bus, err := cds55xx.NewBus(cds55xx.BusConfig{Transport: mock, MinCommandGap: time.Microsecond})
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })

	core, logs := observer.New(zap.DebugLevel)
	b := New(cds55xx.NewCodec(bus), config.MQTTConfig{
		Topic:     "robot/servos",
		QoS:       1,
		QueueSize: queueSize,
	}, zap.New(core))
	return b, mock, logs
}

func TestDecodeCommand(t *testing.T) {
	testCases := []struct {
		name    string
		payload string
		want    Command
		wantErr error
	}{
		{
			name:    "mode broadcast",
			payload: `{"op": "mode", "id": 254, "mode": "motor"}`,
			want:    Command{Op: OpMode, ID: 254, Mode: "motor"},
		},
		{
			name:    "position",
			payload: `{"op": "position", "id": 1, "position": 512, "speed": 100}`,
			want:    Command{Op: OpPosition, ID: 1, Position: intp(512), Speed: intp(100)},
		},
		{
			name:    "sync speed",
			payload: `{"op": "sync_speed", "units": [{"id": 1, "speed": -300}]}`,
			want:    Command{Op: OpSyncSpeed, Units: []Unit{{ID: 1, Speed: intp(-300)}}},
		},
		{name: "unknown op", payload: `{"op": "read"}`, wantErr: ErrUnknownOp},
		{name: "bad mode", payload: `{"op": "mode", "id": 1, "mode": "wheel"}`, wantErr: cds55xx.ErrInvalidMode},
		{name: "mode id too large", payload: `{"op": "mode", "id": 255, "mode": "servo"}`, wantErr: cds55xx.ErrInvalidID},
		{name: "position broadcast", payload: `{"op": "position", "id": 254}`, wantErr: cds55xx.ErrInvalidID},
		{name: "sync unit id", payload: `{"op": "sync_position", "units": [{"id": -1}]}`, wantErr: cds55xx.ErrInvalidID},
		{name: "position without position", payload: `{"op": "position", "id": 1, "speed": 100}`, wantErr: ErrMissingField},
		{name: "position without speed", payload: `{"op": "position", "id": 1, "position": 512}`, wantErr: ErrMissingField},
		{name: "position without values", payload: `{"op": "position", "id": 1}`, wantErr: ErrMissingField},
		{name: "speed without speed", payload: `{"op": "speed", "id": 1}`, wantErr: ErrMissingField},
		{
			name:    "sync position unit without speed",
			payload: `{"op": "sync_position", "units": [{"id": 1, "position": 10, "speed": 5}, {"id": 2, "position": 10}]}`,
			wantErr: ErrMissingField,
		},
		{name: "sync position unit without position", payload: `{"op": "sync_position", "units": [{"id": 1, "speed": 5}]}`, wantErr: ErrMissingField},
		{name: "sync speed unit without speed", payload: `{"op": "sync_speed", "units": [{"id": 1}]}`, wantErr: ErrMissingField},
		{
			name:    "explicit zero is a value",
			payload: `{"op": "speed", "id": 1, "speed": 0}`,
			want:    Command{Op: OpSpeed, ID: 1, Speed: intp(0)},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := DecodeCommand([]byte(tc.payload))
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, cmd)
		})
	}

	_, err := DecodeCommand([]byte(`not json`))
	require.Error(t, err)
}

func TestBridge_Execute(t *testing.T) {
	b, mock, _ := newTestBridge(t, 4)
	ctx := context.Background()

	require.NoError(t, b.Execute(ctx, Command{Op: OpMode, ID: 1, Mode: "motor"}))
	require.Equal(t, []byte{0xFF, 0xFF, 0x01, 0x04, 0x03, 0x18, 0x01, 0xDE}, mock.LastFrame())

	require.NoError(t, b.Execute(ctx, Command{Op: OpPosition, ID: 3, Position: intp(384), Speed: intp(512)}))
	require.Equal(t, []byte{0xFF, 0xFF, 0xFE, 0x09, 0x83, 0x1E, 0x04, 0x03, 0x80, 0x01, 0x00, 0x02, 0xCD}, mock.LastFrame())

	require.NoError(t, b.Execute(ctx, Command{Op: OpSpeed, ID: 1, Speed: intp(-500)}))
	require.Equal(t, []byte{0xFF, 0xFF, 0xFE, 0x09, 0x83, 0x1E, 0x04, 0x01, 0x00, 0x02, 0xF4, 0x05, 0x57}, mock.LastFrame())

	require.NoError(t, b.Execute(ctx, Command{Op: OpSyncSpeed, Units: []Unit{
		{ID: 1, Speed: intp(2000)}, {ID: 2, Speed: intp(-2000)}, {ID: 3, Speed: intp(0)},
	}}))
	require.Equal(t, byte(0x35), mock.LastFrame()[22])

	require.NoError(t, b.Execute(ctx, Command{Op: OpSyncPosition, Units: []Unit{
		{ID: 1, Position: intp(512), Speed: intp(100)}, {ID: 2, Position: intp(4000), Speed: intp(300)}, {ID: 3, Position: intp(-5), Speed: intp(2000)},
	}}))
	require.Equal(t, byte(0xB2), mock.LastFrame()[22])

	require.Len(t, mock.Frames, 5)
	require.ErrorIs(t, b.Execute(ctx, Command{Op: OpPosition, ID: 300}), cds55xx.ErrInvalidID)
	require.ErrorIs(t, b.Execute(ctx, Command{Op: OpPosition, ID: 1}), ErrMissingField)
	require.ErrorIs(t, b.Execute(ctx, Command{Op: OpSpeed, ID: 1}), ErrMissingField)
	require.Len(t, mock.Frames, 5)
}

func TestBridge_SubscribeAndRun(t *testing.T) {
	frames := make(chan []byte, 1)
	codec := cds55xx.NewCodec(cds55xx.TransmitFunc(func(ctx context.Context, frame []byte) error {
		frames <- append([]byte(nil), frame...)
		return nil
	}))
	b := New(codec, config.MQTTConfig{Topic: "robot/servos", QoS: 1}, nil)

	sub := &fakeSubscriber{}
	require.NoError(t, b.Subscribe(sub))
	require.Equal(t, "robot/servos", sub.topic)
	require.Equal(t, byte(1), sub.qos)

	sub.handler(nil, &fakeMessage{topic: sub.topic, payload: []byte(`{"op": "speed", "id": 1, "speed": 500}`)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	select {
	case frame := <-frames:
		require.Equal(t, []byte{0xFF, 0xFF, 0xFE, 0x09, 0x83, 0x1E, 0x04, 0x01, 0x00, 0x02, 0xF4, 0x01, 0x5B}, frame)
	case <-time.After(time.Second):
		t.Fatal("command was not executed")
	}

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestBridge_SubscribeError(t *testing.T) {
	b, _, _ := newTestBridge(t, 4)
	subErr := errors.New("not authorized")
	require.ErrorIs(t, b.Subscribe(&fakeSubscriber{err: subErr}), subErr)
}

func TestBridge_DropsInvalidAndOverflow(t *testing.T) {
	b, _, logs := newTestBridge(t, 1)

	b.HandleMessage(nil, &fakeMessage{topic: "robot/servos", payload: []byte(`{"op": "jump"}`)})
	require.Equal(t, 1, logs.FilterMessage("dropping command").Len())
	require.Empty(t, b.queue)

	valid := []byte(`{"op": "speed", "id": 1, "speed": 10}`)
	b.HandleMessage(nil, &fakeMessage{topic: "robot/servos", payload: valid})
	b.HandleMessage(nil, &fakeMessage{topic: "robot/servos", payload: valid})
	require.Len(t, b.queue, 1)
	require.Equal(t, 1, logs.FilterMessage("command queue full, dropping command").Len())
}

func TestBridge_RunLogsFailures(t *testing.T) {
	mock := &transports.MockTransport{WriteErr: errors.New("unplugged")}
	bus, err := cds55xx.NewBus(cds55xx.BusConfig{Transport: mock})
	require.NoError(t, err)
	defer bus.Close()

	core, logs := observer.New(zap.WarnLevel)
	b := New(cds55xx.NewCodec(bus), config.MQTTConfig{Topic: "t"}, zap.New(core))
	b.queue <- Command{Op: OpSpeed, ID: 1, Speed: intp(1)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Run(ctx) }()

	require.Eventually(t, func() bool {
		return logs.FilterMessage("command failed").Len() == 1
	}, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestConnectRequiresBroker(t *testing.T) {
	_, err := Connect(config.MQTTConfig{})
	require.Error(t, err)
}
