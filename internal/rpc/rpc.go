// Package rpc implements a JSON-RPC 2.0 endpoint with namespaced method
// registration, batch dispatch, and notification fan-out.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/vesselkit/vessel/internal/config"
	apperrors "github.com/vesselkit/vessel/internal/errors"
	"github.com/vesselkit/vessel/internal/logging"
)

// Version is the protocol version accepted and emitted by the dispatcher.
const Version = "2.0"

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// GlobalNamespace holds methods registered without a dotted prefix.
const GlobalNamespace = ""

// Handler executes a single JSON-RPC method call. Params is the raw
// "params" member of the request, or nil when omitted.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// InvalidParams wraps a handler-side validation failure so the dispatcher
// reports it as -32602 rather than a generic internal error.
func InvalidParams(msg string) *Error {
	return &Error{Code: CodeInvalidParams, Message: msg}
}

// Request is an incoming JSON-RPC 2.0 request or notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`
}

// Notification reports whether the request carries no id member. A JSON
// null id still identifies a call and gets a response.
func (r Request) Notification() bool {
	return len(r.ID) == 0
}

// Response is an outgoing JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

func result(id json.RawMessage, v any) Response {
	return Response{JSONRPC: Version, Result: v, ID: id}
}

func failure(id json.RawMessage, e *Error) Response {
	if id == nil {
		id = json.RawMessage("null")
	}
	return Response{JSONRPC: Version, Error: e, ID: id}
}

// Dispatcher routes JSON-RPC requests to registered handlers. Methods are
// grouped by namespace: "wallet.transfer" registers "transfer" under the
// "wallet" group, while an undotted name lands in the global group.
type Dispatcher struct {
	mu       sync.RWMutex
	groups   map[string]map[string]Handler
	batchCap int
	log      *logging.Logger
}

// NewDispatcher builds an empty dispatcher using the configured batch cap.
func NewDispatcher(cfg config.RPCConfig, log *logging.Logger) *Dispatcher {
	limit := cfg.BatchCap
	if limit <= 0 {
		limit = 32
	}
	if log == nil {
		log = logging.NewNop()
	}
	return &Dispatcher{
		groups:   make(map[string]map[string]Handler),
		batchCap: limit,
		log:      log,
	}
}

// Register binds a handler to a method name. A dotted name splits at the
// first dot into namespace and action; later registrations under the same
// name replace earlier ones.
func (d *Dispatcher) Register(name string, h Handler) error {
	ns, action := splitMethod(name)
	if action == "" {
		return fmt.Errorf("rpc: empty method name %q", name)
	}
	if h == nil {
		return fmt.Errorf("rpc: nil handler for %q", name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	group, ok := d.groups[ns]
	if !ok {
		group = make(map[string]Handler)
		d.groups[ns] = group
	}
	group[action] = h
	return nil
}

// MustRegister is Register that panics on a bad name, for wiring at startup.
func (d *Dispatcher) MustRegister(name string, h Handler) {
	if err := d.Register(name, h); err != nil {
		panic(err)
	}
}

// Methods returns the registered method names, namespace-qualified.
func (d *Dispatcher) Methods() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var names []string
	for ns, group := range d.groups {
		for action := range group {
			if ns == GlobalNamespace {
				names = append(names, action)
			} else {
				names = append(names, ns+"."+action)
			}
		}
	}
	return names
}

func (d *Dispatcher) lookup(method string) (Handler, bool) {
	ns, action := splitMethod(method)
	d.mu.RLock()
	defer d.mu.RUnlock()
	group, ok := d.groups[ns]
	if !ok {
		return nil, false
	}
	h, ok := group[action]
	return h, ok
}

func splitMethod(name string) (ns, action string) {
	if i := strings.Index(name, "."); i >= 0 {
		return name[:i], name[i+1:]
	}
	return GlobalNamespace, name
}

// ServeHTTP handles a single request or a batch. HTTP status reflects the
// dispatch outcome: 200 for clean results, 207 for a batch with at least
// one error, 204 for pure notifications, and 400/404/413/422/500 mapped
// from the protocol error of a single call.
func (d *Dispatcher) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeSingle(w, failure(nil, &Error{Code: CodeParseError, Message: "unable to read request body"}))
		return
	}
	if !gjson.ValidBytes(body) {
		writeSingle(w, failure(nil, &Error{Code: CodeParseError, Message: "invalid JSON"}))
		return
	}

	parsed := gjson.ParseBytes(body)
	if parsed.IsArray() {
		d.serveBatch(w, r, parsed.Array(), body)
		return
	}
	d.serveSingle(w, r, parsed, body)
}

func (d *Dispatcher) serveSingle(w http.ResponseWriter, r *http.Request, probe gjson.Result, raw []byte) {
	if e := validateShape(probe); e != nil {
		writeSingle(w, failure(idOf(probe), e))
		return
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		writeSingle(w, failure(idOf(probe), &Error{Code: CodeInvalidRequest, Message: "malformed request object"}))
		return
	}
	resp, respond := d.call(r.Context(), req)
	if !respond {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeSingle(w, resp)
}

func (d *Dispatcher) serveBatch(w http.ResponseWriter, r *http.Request, items []gjson.Result, raw []byte) {
	if len(items) == 0 {
		writeSingle(w, failure(nil, &Error{Code: CodeInvalidRequest, Message: "empty batch"}))
		return
	}
	if len(items) > d.batchCap {
		err := apperrors.PayloadTooLarge(fmt.Sprintf("batch of %d exceeds cap of %d", len(items), d.batchCap))
		writeJSON(w, err.HTTPStatus, map[string]any{"error": err.Message})
		return
	}

	var reqs []Request
	if err := json.Unmarshal(raw, &reqs); err != nil {
		// Mixed-shape batches fall back to per-item validation below.
		reqs = nil
	}

	var (
		responses []Response
		wg        sync.WaitGroup
		failed    bool
	)
	for i, item := range items {
		if e := validateShape(item); e != nil {
			responses = append(responses, failure(idOf(item), e))
			failed = true
			continue
		}
		var req Request
		if reqs != nil {
			req = reqs[i]
		} else if err := json.Unmarshal([]byte(item.Raw), &req); err != nil {
			responses = append(responses, failure(idOf(item), &Error{Code: CodeInvalidRequest, Message: "malformed request object"}))
			failed = true
			continue
		}
		if req.Notification() {
			// Notifications run concurrently; nothing is reported back.
			wg.Add(1)
			go func(req Request) {
				defer wg.Done()
				d.call(r.Context(), req)
			}(req)
			continue
		}
		resp, _ := d.call(r.Context(), req)
		if resp.Error != nil {
			failed = true
		}
		responses = append(responses, resp)
	}
	wg.Wait()

	if len(responses) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	status := http.StatusOK
	if failed {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, responses)
}

// call runs one request. The second return is false for notifications,
// which produce no response object.
func (d *Dispatcher) call(ctx context.Context, req Request) (Response, bool) {
	notification := req.Notification()
	h, ok := d.lookup(req.Method)
	if !ok {
		if notification {
			return Response{}, false
		}
		return failure(req.ID, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}), true
	}

	v, err := d.invoke(ctx, h, req)
	if notification {
		return Response{}, false
	}
	if err != nil {
		return failure(req.ID, toRPCError(err)), true
	}
	return result(req.ID, v), true
}

func (d *Dispatcher) invoke(ctx context.Context, h Handler, req Request) (v any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.WithField("method", req.Method).Errorf("rpc handler panic: %v", rec)
			err = &Error{Code: CodeInternalError, Message: "internal error"}
		}
	}()
	return h(ctx, req.Params)
}

func toRPCError(err error) *Error {
	var rpcErr *Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	if se := apperrors.GetServiceError(err); se != nil {
		switch se.Code {
		case apperrors.CodeValidation, apperrors.CodeUnprocessable:
			return &Error{Code: CodeInvalidParams, Message: se.Message, Data: se.Details}
		case apperrors.CodeNotFound:
			return &Error{Code: CodeMethodNotFound, Message: se.Message}
		default:
			return &Error{Code: CodeInternalError, Message: se.Message}
		}
	}
	return &Error{Code: CodeInternalError, Message: err.Error()}
}

// validateShape probes the decoded request with gjson before committing to
// a full unmarshal: jsonrpc must be exactly "2.0" and method a string.
func validateShape(v gjson.Result) *Error {
	if !v.IsObject() {
		return &Error{Code: CodeInvalidRequest, Message: "request must be an object"}
	}
	ver := v.Get("jsonrpc")
	if ver.Type != gjson.String || ver.String() != Version {
		return &Error{Code: CodeInvalidRequest, Message: `jsonrpc member must be "2.0"`}
	}
	method := v.Get("method")
	if method.Type != gjson.String || method.String() == "" {
		return &Error{Code: CodeInvalidRequest, Message: "method member must be a non-empty string"}
	}
	id := v.Get("id")
	switch id.Type {
	case gjson.Null, gjson.String, gjson.Number:
	default:
		if id.Exists() {
			return &Error{Code: CodeInvalidRequest, Message: "id member must be a string, number, or null"}
		}
	}
	return nil
}

func idOf(v gjson.Result) json.RawMessage {
	if !v.IsObject() {
		return nil
	}
	id := v.Get("id")
	if !id.Exists() {
		return nil
	}
	return json.RawMessage(id.Raw)
}

// httpStatus maps a protocol error to the transport status used for
// single-call responses.
func httpStatus(e *Error) int {
	switch e.Code {
	case CodeParseError, CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeMethodNotFound:
		return http.StatusNotFound
	case CodeInvalidParams:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeSingle(w http.ResponseWriter, resp Response) {
	status := http.StatusOK
	if resp.Error != nil {
		status = httpStatus(resp.Error)
	}
	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
