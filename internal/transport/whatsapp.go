// Package transport connects the core to the WhatsApp Cloud gateway: an
// inbound webhook that feeds the event bus through the ingress adapter,
// and an outbound client implementing domain.Transport.
package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"vaultbot/internal/config"
	"vaultbot/internal/domain"
	"vaultbot/internal/ingress"
	"vaultbot/internal/metrics"
)

// Cloud implements domain.Transport against the WhatsApp Cloud API and
// receives the gateway's webhook callbacks.
type Cloud struct {
	cfg     config.TransportConfig
	ownID   string
	adapter *ingress.Adapter
	bus     domain.EventBus
	logger  *slog.Logger
	client  *http.Client
	mux     *http.ServeMux
	limiter *Limiter
}

type CloudConfig struct {
	Config  config.TransportConfig
	OwnerID string
	Adapter *ingress.Adapter
	Bus     domain.EventBus
	Logger  *slog.Logger
}

func NewCloud(cfg CloudConfig) *Cloud {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	c := &Cloud{
		cfg:     cfg.Config,
		ownID:   cfg.OwnerID,
		adapter: cfg.Adapter,
		bus:     cfg.Bus,
		logger:  cfg.Logger,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	if cfg.Config.SendsPerMinute > 0 {
		c.limiter = NewLimiter(cfg.Config.SendsPerMinute, float64(cfg.Config.SendsPerMinute))
	}

	webhookPath := cfg.Config.WebhookPath
	if webhookPath == "" {
		webhookPath = "/webhook/whatsapp"
	}
	c.mux = http.NewServeMux()
	c.mux.HandleFunc("GET "+webhookPath, c.handleVerification)
	c.mux.HandleFunc("POST "+webhookPath, c.handleIncoming)
	return c
}

// Handler returns the webhook handler (to be mounted on the main mux).
func (c *Cloud) Handler() http.Handler { return c.mux }

func (c *Cloud) OwnID() string { return c.ownID }

// --- Webhook handlers ---

// handleVerification answers the gateway's subscription challenge.
func (c *Cloud) handleVerification(rw http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("hub.mode")
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if mode == "subscribe" && token == c.cfg.VerifyToken {
		c.logger.Info("webhook verified")
		rw.WriteHeader(http.StatusOK)
		fmt.Fprint(rw, html.EscapeString(challenge))
		return
	}

	c.logger.Warn("webhook verification failed", "mode", mode)
	http.Error(rw, "Forbidden", http.StatusForbidden)
}

// handleIncoming authenticates and publishes webhook callbacks. The
// response is always fast; all real work happens on the consumer side of
// the bus.
func (c *Cloud) handleIncoming(rw http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	if c.cfg.AppSecret != "" {
		sig := r.Header.Get("X-Hub-Signature-256")
		if !c.verifySignature(body, sig) {
			c.logger.Warn("invalid webhook signature")
			http.Error(rw, "Forbidden", http.StatusForbidden)
			return
		}
	}

	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.logger.Warn("bad webhook payload", "err", err)
		http.Error(rw, "Bad request", http.StatusBadRequest)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			c.publishChange(change.Value)
		}
	}

	rw.WriteHeader(http.StatusOK)
}

func (c *Cloud) publishChange(v waValue) {
	names := make(map[string]string, len(v.Contacts))
	for _, contact := range v.Contacts {
		names[contact.WaID] = contact.Profile.Name
	}

	for _, msg := range v.Messages {
		raw, ok := c.toRaw(msg, names)
		if !ok {
			continue
		}
		if ev := c.adapter.Normalize(raw); ev != nil {
			c.bus.Publish(ev)
		}
	}

	// Delete statuses arrive on a separate rail; batch them into one event.
	var deleted []string
	actor := ""
	conv := ""
	for _, st := range v.Statuses {
		if st.Status != "deleted" {
			continue
		}
		deleted = append(deleted, st.ID)
		actor = st.RecipientID
		conv = st.RecipientID
	}
	if len(deleted) > 0 {
		c.bus.Publish(c.adapter.NormalizeDeleteList(conv, actor, deleted))
	}
}

// SyncHistory fetches the gateway's recent-message backlog and publishes
// it as one history batch, so messages delivered while the process was
// down are still recoverable. Best-effort: a fetch failure is logged and
// the webhook stream proceeds without the backlog.
func (c *Cloud) SyncHistory(ctx context.Context) error {
	url := fmt.Sprintf("%s/%s/messages?limit=100", c.cfg.APIBase, c.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("history fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("history fetch %d", resp.StatusCode)
	}

	var result struct {
		Data []waMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("history response: %w", err)
	}

	raws := make([]ingress.RawMessage, 0, len(result.Data))
	for _, msg := range result.Data {
		if raw, ok := c.toRaw(msg, nil); ok {
			raws = append(raws, raw)
		}
	}
	if len(raws) == 0 {
		return nil
	}
	c.bus.Publish(c.adapter.NormalizeHistory(raws))
	c.logger.Info("history backlog published", "messages", len(raws))
	return nil
}

// toRaw maps a webhook message onto the adapter's raw shape.
func (c *Cloud) toRaw(msg waMessage, names map[string]string) (ingress.RawMessage, bool) {
	conv := msg.From
	if msg.GroupID != "" {
		conv = msg.GroupID
	}
	raw := ingress.RawMessage{
		ID:             msg.ID,
		ConversationID: conv,
		SenderID:       msg.From,
		SenderName:     names[msg.From],
		FromMe:         domain.SameUser(msg.From, c.ownID),
		Timestamp:      parseUnix(msg.Timestamp),
		Ephemeral:      msg.Ephemeral,
		ViewOnce:       msg.ViewOnce,
	}

	switch msg.Type {
	case "text":
		if msg.Text == nil {
			return raw, false
		}
		raw.Text = msg.Text.Body
	case "image":
		raw.Media = mediaFrom("image", msg.Image)
	case "video":
		raw.Media = mediaFrom("video", msg.Video)
	case "audio":
		raw.Media = mediaFrom("audio", msg.Audio)
	case "document":
		raw.Media = mediaFrom("document", msg.Document)
	case "sticker":
		raw.Media = mediaFrom("sticker", msg.Sticker)
	case "reaction":
		if msg.Reaction == nil {
			return raw, false
		}
		raw.Reaction = &ingress.RawReaction{TargetID: msg.Reaction.MessageID, Emoji: msg.Reaction.Emoji}
	case "revoked":
		if msg.Revoked == nil {
			return raw, false
		}
		raw.Revoke = &ingress.RawRevoke{TargetID: msg.Revoked.MessageID}
	case "edited":
		if msg.Edited == nil {
			return raw, false
		}
		raw.Edit = &ingress.RawEdit{TargetID: msg.Edited.MessageID}
		switch {
		case msg.Edited.Text != nil:
			raw.Text = msg.Edited.Text.Body
		case msg.Edited.Image != nil:
			raw.Media = mediaFrom("image", msg.Edited.Image)
		case msg.Edited.Video != nil:
			raw.Media = mediaFrom("video", msg.Edited.Video)
		}
	default:
		c.logger.Debug("unhandled webhook message type", "type", msg.Type, "id", msg.ID)
		return raw, false
	}

	if msg.Context != nil && msg.Context.ID != "" {
		raw.Quoted = &ingress.RawMessage{
			ID:       msg.Context.ID,
			SenderID: msg.Context.From,
		}
	}
	return raw, true
}

func mediaFrom(kind string, m *waMedia) *ingress.RawMedia {
	if m == nil {
		return nil
	}
	return &ingress.RawMedia{
		Kind:     kind,
		MimeType: m.MimeType,
		Caption:  m.Caption,
		FileName: m.Filename,
		MediaID:  m.ID,
	}
}

func parseUnix(s string) time.Time {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}
	}
	return time.Unix(n, 0)
}

// verifySignature checks the X-Hub-Signature-256 header.
func (c *Cloud) verifySignature(body []byte, signature string) bool {
	if len(signature) < 7 || signature[:7] != "sha256=" {
		return false
	}
	expected := signature[7:]

	mac := hmac.New(sha256.New, []byte(c.cfg.AppSecret))
	mac.Write(body)
	computed := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(computed))
}

// --- Outbound ---

// Send delivers text or media to a conversation via the Cloud API.
func (c *Cloud) Send(ctx context.Context, conversationID string, out domain.Outgoing) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	if out.Media != nil {
		return c.sendMedia(ctx, conversationID, out.Media)
	}
	return c.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                conversationID,
		"type":              "text",
		"text":              map[string]string{"body": out.Text},
	})
}

func (c *Cloud) sendMedia(ctx context.Context, to string, media *domain.OutgoingMedia) error {
	mediaID, err := c.upload(ctx, media)
	if err != nil {
		return err
	}

	kind := string(media.Kind)
	attachment := map[string]any{"id": mediaID}
	if media.Caption != "" {
		attachment["caption"] = media.Caption
	}
	return c.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"to":                to,
		"type":              kind,
		kind:                attachment,
	})
}

// upload pushes raw bytes to the media endpoint and returns the media id.
func (c *Cloud) upload(ctx context.Context, media *domain.OutgoingMedia) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("messaging_product", "whatsapp"); err != nil {
		return "", err
	}
	if err := mw.WriteField("type", media.MimeType); err != nil {
		return "", err
	}
	fw, err := mw.CreateFormFile("file", "attachment")
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(media.Data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/%s/media", c.cfg.APIBase, c.cfg.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, "POST", url, &buf)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("media upload %d: %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("upload response: %w", err)
	}
	return result.ID, nil
}

func (c *Cloud) post(ctx context.Context, payload map[string]any) error {
	url := fmt.Sprintf("%s/%s/messages", c.cfg.APIBase, c.cfg.PhoneNumberID)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.SendFailures.Inc()
		return fmt.Errorf("send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		metrics.SendFailures.Inc()
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("whatsapp API %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// DownloadMedia resolves a media reference to its bytes. Inline bytes
// short-circuit; otherwise it is the Cloud API's two-step fetch: resolve
// the media id to a short-lived URL, then fetch the URL.
func (c *Cloud) DownloadMedia(ctx context.Context, ref domain.MediaRef) ([]byte, error) {
	if len(ref.Inline) > 0 {
		return ref.Inline, nil
	}

	url := ref.URL
	if url == "" {
		if ref.ID == "" {
			return nil, fmt.Errorf("empty media reference: %w", domain.ErrDownloadFailed)
		}
		resolved, err := c.resolveMediaURL(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		url = resolved
	}

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", domain.ErrDownloadFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media fetch %d: %w", resp.StatusCode, domain.ErrDownloadFailed)
	}
	return io.ReadAll(resp.Body)
}

func (c *Cloud) resolveMediaURL(ctx context.Context, mediaID string) (string, error) {
	url := fmt.Sprintf("%s/%s", c.cfg.APIBase, mediaID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("resolve media: %w", domain.ErrDownloadFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("media resolve %d: %w", resp.StatusCode, domain.ErrDownloadFailed)
	}

	var result struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("resolve response: %w", err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("no url for media %s: %w", mediaID, domain.ErrDownloadFailed)
	}
	return result.URL, nil
}

// GroupMetadata resolves a group's subject through the gateway.
func (c *Cloud) GroupMetadata(ctx context.Context, conversationID string) (domain.GroupInfo, error) {
	url := fmt.Sprintf("%s/%s?fields=subject,participants", c.cfg.APIBase, conversationID)
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return domain.GroupInfo{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return domain.GroupInfo{}, fmt.Errorf("group metadata: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.GroupInfo{}, fmt.Errorf("group metadata %d", resp.StatusCode)
	}

	var result struct {
		Subject      string `json:"subject"`
		Participants []struct {
			ID string `json:"id"`
		} `json:"participants"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.GroupInfo{}, fmt.Errorf("group metadata response: %w", err)
	}
	info := domain.GroupInfo{Label: result.Subject}
	for _, p := range result.Participants {
		info.MemberIDs = append(info.MemberIDs, p.ID)
	}
	return info, nil
}

// MarkRead acknowledges a message as read.
func (c *Cloud) MarkRead(ctx context.Context, conversationID, messageID string) error {
	return c.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"status":            "read",
		"message_id":        messageID,
	})
}

var _ domain.Transport = (*Cloud)(nil)

// --- Webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Contacts         []waContact `json:"contacts"`
	Messages         []waMessage `json:"messages"`
	Statuses         []waStatus  `json:"statuses"`
}

type waContact struct {
	WaID    string `json:"wa_id"`
	Profile struct {
		Name string `json:"name"`
	} `json:"profile"`
}

type waMessage struct {
	From      string      `json:"from"`
	GroupID   string      `json:"group_id,omitempty"`
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Ephemeral bool        `json:"ephemeral,omitempty"`
	ViewOnce  bool        `json:"view_once,omitempty"`
	Text      *waText     `json:"text,omitempty"`
	Image     *waMedia    `json:"image,omitempty"`
	Video     *waMedia    `json:"video,omitempty"`
	Audio     *waMedia    `json:"audio,omitempty"`
	Document  *waMedia    `json:"document,omitempty"`
	Sticker   *waMedia    `json:"sticker,omitempty"`
	Reaction  *waReaction `json:"reaction,omitempty"`
	Revoked   *waRevoked  `json:"revoked,omitempty"`
	Edited    *waEdited   `json:"edited,omitempty"`
	Context   *waContext  `json:"context,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Sha256   string `json:"sha256,omitempty"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type waReaction struct {
	MessageID string `json:"message_id"`
	Emoji     string `json:"emoji"`
}

type waRevoked struct {
	MessageID string `json:"message_id"`
}

type waEdited struct {
	MessageID string   `json:"message_id"`
	Text      *waText  `json:"text,omitempty"`
	Image     *waMedia `json:"image,omitempty"`
	Video     *waMedia `json:"video,omitempty"`
}

type waContext struct {
	From string `json:"from"`
	ID   string `json:"id"`
}

type waStatus struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	RecipientID string `json:"recipient_id"`
}
