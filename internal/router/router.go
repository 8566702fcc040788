// Package router is the typed request/response protocol between the page
// layer, the background agent and external clients. Every message kind has
// one response shape, and a message nobody answers in time yields a failed
// response instead of an error.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"shopsavr-agent/internal/metrics"
)

// Kind enumerates the message kinds.
type Kind string

const (
	SearchCoupons     Kind = "searchCoupons"
	ApplyCouponToPage Kind = "applyCouponToPage"
	ShowCouponWidget  Kind = "showCouponWidget"
	HideCouponWidget  Kind = "hideCouponWidget"
	GetPageData       Kind = "getPageData"
	AddToWishlist     Kind = "addToWishlist"
	UpdatePreferences Kind = "updatePreferences"
)

// NoResponse is the error of a message without an answer.
const NoResponse = "no response"

// ErrUnknownKind is returned when registering a handler for a kind outside the enum.
var ErrUnknownKind = errors.New("unknown message kind")

// Kinds lists every message kind.
func Kinds() []Kind {
	return []Kind{SearchCoupons, ApplyCouponToPage, ShowCouponWidget, HideCouponWidget, GetPageData, AddToWishlist, UpdatePreferences}
}

func (k Kind) Valid() bool {
	for _, v := range Kinds() {
		if k == v {
			return true
		}
	}
	return false
}

type Message struct {
	Kind    Kind            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type Response struct {
	Success bool        `json:"success"`
	Error   string      `json:"error,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// NewMessage encodes payload into a message of kind k.
func NewMessage(k Kind, payload interface{}) (Message, error) {
	if payload == nil {
		return Message{Kind: k}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s payload: %w", k, err)
	}
	return Message{Kind: k, Payload: raw}, nil
}

// Decode unmarshals a payload; an empty payload leaves dst untouched.
func Decode(payload json.RawMessage, dst interface{}) error {
	if len(payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// HandlerFunc answers one message. A returned error becomes a failed response.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (interface{}, error)

type Router struct {
	mu       sync.RWMutex
	handlers map[Kind]HandlerFunc
	timeout  time.Duration
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Router)

func WithLogger(l zerolog.Logger) Option {
	return func(r *Router) { r.log = l.With().Str("component", "router").Logger() }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// New returns a router whose handlers must answer within timeout.
func New(timeout time.Duration, opts ...Option) *Router {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	r := &Router{handlers: make(map[Kind]HandlerFunc), timeout: timeout, log: zerolog.Nop()}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handle registers h for kind, replacing any previous handler.
func (r *Router) Handle(kind Kind, h HandlerFunc) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	r.mu.Lock()
	r.handlers[kind] = h
	r.mu.Unlock()
	return nil
}

// Registered lists kinds that currently have a handler.
func (r *Router) Registered() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Kind, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type reply struct {
	data interface{}
	err  error
	ok   bool
}

// Send delivers msg and waits for the answer. A missing handler, a panic or
// a timeout all produce {Success: false, Error: "no response"}.
func (r *Router) Send(ctx context.Context, msg Message) Response {
	resp := r.send(ctx, msg)
	r.metrics.RecordMessage(string(msg.Kind), resp.Success)
	return resp
}

func (r *Router) send(ctx context.Context, msg Message) Response {
	r.mu.RLock()
	h, ok := r.handlers[msg.Kind]
	r.mu.RUnlock()
	if !ok {
		r.log.Debug().Str("kind", string(msg.Kind)).Msg("no handler registered")
		return Response{Success: false, Error: NoResponse}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan reply, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				r.log.Error().Str("kind", string(msg.Kind)).Interface("panic", p).Msg("message handler panicked")
				done <- reply{}
			}
		}()
		data, err := h(ctx, msg.Payload)
		done <- reply{data: data, err: err, ok: true}
	}()

	select {
	case <-ctx.Done():
		r.log.Warn().Str("kind", string(msg.Kind)).Err(ctx.Err()).Msg("message timed out")
		return Response{Success: false, Error: NoResponse}
	case rep := <-done:
		switch {
		case !rep.ok, rep.err != nil && ctx.Err() != nil:
			return Response{Success: false, Error: NoResponse}
		case rep.err != nil:
			return Response{Success: false, Error: rep.err.Error()}
		}
		return Response{Success: true, Data: rep.data}
	}
}
