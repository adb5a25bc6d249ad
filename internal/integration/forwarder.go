package integration

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/momo-shadow/shadow-engine/internal/config"
	"github.com/momo-shadow/shadow-engine/internal/models"
	"github.com/momo-shadow/shadow-engine/internal/storage"
)

// Forwarder fans controller notifications out to NATS, MQTT, an HTTP webhook and the store.
// Every sink is optional.
type Forwarder struct {
	cfg        *config.Config
	nc         *nats.Conn
	store      storage.Store
	httpClient *http.Client

	mqttClient mqtt.Client
	mqttMu     sync.RWMutex

	kinds map[models.NotificationKind]struct{}
	wg    sync.WaitGroup
}

// Envelope is the payload published to every sink
type Envelope struct {
	Device string `json:"device"`
	models.Notification
}

// NewForwarder creates a forwarder; nc and store may be nil
func NewForwarder(cfg *config.Config, nc *nats.Conn, store storage.Store) *Forwarder {
	f := &Forwarder{
		cfg:   cfg,
		nc:    nc,
		store: store,
		httpClient: &http.Client{
			Timeout: cfg.Webhook.Timeout,
		},
		kinds: make(map[models.NotificationKind]struct{}),
	}
	for _, k := range cfg.Webhook.Kinds {
		f.kinds[models.NotificationKind(k)] = struct{}{}
	}
	return f
}

// Run 启动转发服务, 直到通知通道关闭或 ctx 结束
func (f *Forwarder) Run(ctx context.Context, notes <-chan models.Notification) error {
	// 初始化 MQTT 连接
	if f.cfg.MQTT.Enabled {
		f.connectMQTT()
	}
	defer f.closeMQTT()

	log.Info().
		Bool("nats", f.nc != nil).
		Bool("mqtt", f.cfg.MQTT.Enabled).
		Bool("webhook", f.cfg.Webhook.Enabled).
		Bool("store", f.store != nil).
		Msg("Forwarder started")

	for {
		select {
		case <-ctx.Done():
			f.wg.Wait()
			return ctx.Err()
		case n, ok := <-notes:
			if !ok {
				f.wg.Wait()
				return nil
			}
			f.Handle(ctx, n)
		}
	}
}

// Handle persists and publishes one notification.
// Webhook and MQTT deliveries run in the background.
func (f *Forwarder) Handle(ctx context.Context, n models.Notification) {
	if f.store != nil {
		if err := Persist(ctx, f.store, n); err != nil {
			log.Error().Err(err).Str("kind", string(n.Kind)).Msg("Failed to persist notification")
		}
	}

	data, err := json.Marshal(Envelope{Device: f.cfg.Device.Name, Notification: n})
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal notification")
		return
	}

	// 发布到 NATS
	if f.nc != nil {
		subject := n.Subject(f.cfg.NATS.SubjectPrefix)
		if err := f.nc.Publish(subject, data); err != nil {
			log.Error().Err(err).Str("subject", subject).Msg("Failed to publish to NATS")
		}
	}

	// 转发到 HTTP
	if f.webhookWants(n.Kind) {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.forwardToHTTP(ctx, n, data)
		}()
	}

	// 转发到 MQTT
	if f.cfg.MQTT.Enabled {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.forwardToMQTT(n, data)
		}()
	}
}

// Wait blocks until background deliveries finish
func (f *Forwarder) Wait() {
	f.wg.Wait()
}

func (f *Forwarder) webhookWants(kind models.NotificationKind) bool {
	if !f.cfg.Webhook.Enabled {
		return false
	}
	if len(f.kinds) == 0 {
		return true
	}
	_, ok := f.kinds[kind]
	return ok
}

// forwardToHTTP 转发数据到 HTTP
func (f *Forwarder) forwardToHTTP(ctx context.Context, n models.Notification, data []byte) {
	endpoint := f.cfg.Webhook.URL

	// 创建请求
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create HTTP request")
		return
	}

	// 设置 headers
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shadow-Event", string(n.Kind))
	for k, v := range f.cfg.Webhook.Headers {
		req.Header.Set(k, v)
	}

	// 发送请求
	resp, err := f.httpClient.Do(req)
	if err != nil {
		log.Error().
			Err(err).
			Str("endpoint", endpoint).
			Msg("Failed to forward notification to HTTP")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		log.Error().
			Int("status", resp.StatusCode).
			Str("endpoint", endpoint).
			Msg("HTTP forward failed")
		return
	}

	log.Debug().
		Str("kind", string(n.Kind)).
		Str("endpoint", endpoint).
		Msg("Notification forwarded to HTTP")
}

// forwardToMQTT 转发数据到 MQTT
func (f *Forwarder) forwardToMQTT(n models.Notification, data []byte) {
	// 获取或创建 MQTT 客户端
	client := f.getMQTTClient()
	if client == nil {
		client = f.connectMQTT()
		if client == nil {
			return
		}
	}

	topic := f.Topic(n)

	// 发布消息
	token := client.Publish(topic, f.cfg.MQTT.QoS, false, data)
	if !token.WaitTimeout(5 * time.Second) {
		log.Error().Str("topic", topic).Msg("MQTT publish timeout")
		return
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to publish to MQTT")
		return
	}

	log.Debug().
		Str("kind", string(n.Kind)).
		Str("topic", topic).
		Msg("Notification forwarded to MQTT")
}

// Topic expands the configured MQTT topic pattern for n
func (f *Forwarder) Topic(n models.Notification) string {
	bssid := "-"
	if n.BSSID != nil {
		bssid = strings.ReplaceAll(n.BSSID.String(), ":", "")
	}
	r := strings.NewReplacer(
		"{device}", f.cfg.Device.Name,
		"{kind}", string(n.Kind),
		"{bssid}", bssid,
	)
	return r.Replace(f.cfg.MQTT.TopicPattern)
}

// getMQTTClient 获取 MQTT 客户端
func (f *Forwarder) getMQTTClient() mqtt.Client {
	f.mqttMu.RLock()
	defer f.mqttMu.RUnlock()

	if f.mqttClient != nil && f.mqttClient.IsConnected() {
		return f.mqttClient
	}
	return nil
}

// connectMQTT 创建 MQTT 客户端
func (f *Forwarder) connectMQTT() mqtt.Client {
	cfg := f.cfg.MQTT

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetKeepAlive(30 * time.Second)

	// 连接处理
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", cfg.BrokerURL).Msg("MQTT client connected")
	})

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Error().Err(err).Str("broker", cfg.BrokerURL).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()

	if token.WaitTimeout(10*time.Second) && token.Error() == nil {
		f.mqttMu.Lock()
		f.mqttClient = client
		f.mqttMu.Unlock()
		return client
	}

	log.Error().
		Err(token.Error()).
		Str("broker", cfg.BrokerURL).
		Msg("Failed to connect MQTT client")
	return nil
}

// closeMQTT 关闭 MQTT 连接
func (f *Forwarder) closeMQTT() {
	f.mqttMu.Lock()
	defer f.mqttMu.Unlock()

	if f.mqttClient == nil {
		return
	}
	if f.mqttClient.IsConnected() {
		f.mqttClient.Disconnect(250)
		log.Info().Msg("MQTT client disconnected")
	}
	f.mqttClient = nil
}

// Persist writes a notification to the store: captures, probes and an event log entry
func Persist(ctx context.Context, store storage.Store, n models.Notification) error {
	switch n.Kind {
	case models.NotifyHandshake:
		if n.BSSID == nil || n.ClientMAC == nil {
			return fmt.Errorf("handshake notification without addresses: %w", storage.ErrInvalidData)
		}
		completed := n.Time
		h := &models.HandshakeSession{
			BSSID:        *n.BSSID,
			ClientMAC:    *n.ClientMAC,
			SSID:         n.SSID,
			Messages:     n.Messages,
			Complete:     true,
			CaptureKind:  n.CaptureKind,
			StartedAt:    n.Time,
			LastActivity: n.Time,
			CompletedAt:  &completed,
		}
		if err := store.SaveHandshake(ctx, h); err != nil {
			return fmt.Errorf("save handshake: %w", err)
		}

	case models.NotifyProbe:
		if n.ClientMAC == nil {
			return fmt.Errorf("probe notification without client: %w", storage.ErrInvalidData)
		}
		// 探测请求不记录事件日志
		return store.CreateProbe(ctx, &models.ProbeSighting{
			ClientMAC: *n.ClientMAC,
			SSID:      n.SSID,
			Signal:    n.Signal,
			Timestamp: n.Time,
		})
	}

	event := EventFromNotification(n)
	if event == nil {
		return nil
	}
	return store.CreateEventLog(ctx, event)
}

// EventFromNotification maps a notification to its event log entry; probes have none
func EventFromNotification(n models.Notification) *models.EventLog {
	event := &models.EventLog{
		ID:        n.ID,
		CreatedAt: n.Time,
		BSSID:     n.BSSID,
		ClientMAC: n.ClientMAC,
		Code:      string(n.Kind),
		Details:   models.Variables{},
	}

	switch n.Kind {
	case models.NotifyHandshake:
		event.Type = models.EventTypeHandshake
		if n.CaptureKind == models.CapturePMKID {
			event.Type = models.EventTypePMKID
		}
		event.Level = models.EventLevelInfo
		event.Description = fmt.Sprintf("%s captured for %q", n.CaptureKind, n.SSID)
		event.Details["capture_kind"] = string(n.CaptureKind)
		event.Details["targeted"] = n.Targeted
		event.Details["ssid"] = n.SSID

	case models.NotifyStateChanged:
		event.Type = models.EventTypeStateChange
		event.Level = models.EventLevelInfo
		if n.State == models.StateError {
			event.Type = models.EventTypeError
			event.Level = models.EventLevelError
		}
		event.Description = fmt.Sprintf("%s -> %s", n.PrevState, n.State)
		event.Details["state"] = string(n.State)
		event.Details["prev_state"] = string(n.PrevState)
		event.Details["mode"] = string(n.Mode)
		if n.Reason != "" {
			event.Details["reason"] = n.Reason
		}

	case models.NotifyWarning:
		event.Type = models.EventTypeWarning
		event.Level = models.EventLevelWarning
		event.Description = n.Message

	default:
		return nil
	}
	return event
}
