package sentry_transport

import (
	"bytes"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

// RequestBuilder turns SDK payloads into outbound requests.
type RequestBuilder interface {
	EventRequest(event *Event) (*SentryRequest, error)
	SessionRequest(session *Session) (*SentryRequest, error)
}

type envelopeHeader struct {
	EventID string    `json:"event_id,omitempty"`
	SentAt  time.Time `json:"sent_at"`
}

type envelopeItemHeader struct {
	Type RequestType `json:"type"`
}

// defaultRequestBuilder sends error events to the store endpoint and
// everything else as an envelope.
type defaultRequestBuilder struct {
	api *API
	now func() time.Time
}

// NewRequestBuilder returns the builder used by HTTPTransport unless overridden.
func NewRequestBuilder(api *API) RequestBuilder {
	return &defaultRequestBuilder{api: api, now: time.Now}
}

func (b *defaultRequestBuilder) EventRequest(event *Event) (*SentryRequest, error) {
	if event.EventID == "" {
		withID := *event
		withID.EventID = newID()
		event = &withID
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	if event.Type == string(RequestTypeTransaction) {
		body, err := b.envelope(event.EventID, RequestTypeTransaction, payload)
		if err != nil {
			return nil, err
		}
		return &SentryRequest{
			URL:  b.api.EnvelopeEndpointWithAuth(),
			Type: RequestTypeTransaction,
			Body: body,
		}, nil
	}

	return &SentryRequest{
		URL:  b.api.StoreEndpointWithAuth(),
		Type: RequestTypeEvent,
		Body: payload,
	}, nil
}

func (b *defaultRequestBuilder) SessionRequest(session *Session) (*SentryRequest, error) {
	if session.SID == "" {
		withID := *session
		withID.SID = newID()
		session = &withID
	}

	payload, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}

	body, err := b.envelope("", RequestTypeSession, payload)
	if err != nil {
		return nil, err
	}

	return &SentryRequest{
		URL:  b.api.EnvelopeEndpointWithAuth(),
		Type: RequestTypeSession,
		Body: body,
	}, nil
}

// envelope writes "header\nitem header\npayload".
func (b *defaultRequestBuilder) envelope(eventID string, typ RequestType, payload []byte) ([]byte, error) {
	header, err := json.Marshal(envelopeHeader{EventID: eventID, SentAt: b.now().UTC()})
	if err != nil {
		return nil, err
	}
	itemHeader, err := json.Marshal(envelopeItemHeader{Type: typ})
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Grow(len(header) + len(itemHeader) + len(payload) + 2)
	buf.Write(header)
	buf.WriteByte('\n')
	buf.Write(itemHeader)
	buf.WriteByte('\n')
	buf.Write(payload)

	return buf.Bytes(), nil
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
