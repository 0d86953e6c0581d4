package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/VictorNanka/gemini-cli-mcp/internal/log"
	"github.com/VictorNanka/gemini-cli-mcp/internal/orchestration/gemini"
	"github.com/VictorNanka/gemini-cli-mcp/internal/pubsub"
)

const (
	maxMessageSize = 4 * 1024 * 1024

	// logBufferSize is how many log notifications may queue behind a slow
	// client before new ones are dropped.
	logBufferSize = 1024
)

// ToolHandler is a function that handles a tool call.
// It receives the parsed arguments and returns a result or error.
// A returned error becomes an isError tool result, not a JSON-RPC error.
type ToolHandler func(ctx context.Context, args json.RawMessage) (*ToolCallResult, error)

// ToolEvent describes one finished tool call.
type ToolEvent struct {
	Timestamp time.Time
	ToolName  string
	RequestID string
	Duration  time.Duration
	IsError   bool
	Error     string
}

// LogMessage is one queued notifications/message payload.
type LogMessage struct {
	Level gemini.Severity
	Data  string
}

// Server implements an MCP server over stdio.
// It is also a gemini.LogSink: payloads passed to Log are delivered to the
// client as notifications/message.
type Server struct {
	info         ImplementationInfo
	instructions string
	loggerName   string

	mu          sync.RWMutex
	tools       map[string]Tool
	handlers    map[string]ToolHandler
	initialized bool
	minLevel    gemini.Severity

	writeMu sync.Mutex
	writer  io.Writer

	ctx    context.Context
	cancel context.CancelFunc
	calls  sync.WaitGroup

	inflightMu sync.Mutex
	inflight   map[string]context.CancelFunc

	logs   *pubsub.Broker[LogMessage]
	events *pubsub.Broker[ToolEvent]
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithInstructions sets the server instructions sent during initialization.
func WithInstructions(instructions string) ServerOption {
	return func(s *Server) {
		s.instructions = instructions
	}
}

// WithLoggerName sets the logger field of log notifications.
func WithLoggerName(name string) ServerOption {
	return func(s *Server) {
		s.loggerName = name
	}
}

// NewServer creates a new MCP server.
func NewServer(name, version string, opts ...ServerOption) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		info: ImplementationInfo{
			Name:    name,
			Version: version,
		},
		loggerName: "gemini",
		tools:      make(map[string]Tool),
		handlers:   make(map[string]ToolHandler),
		minLevel:   gemini.SeverityDebug,
		ctx:        ctx,
		cancel:     cancel,
		inflight:   make(map[string]context.CancelFunc),
		logs:       pubsub.NewBrokerWithBuffer[LogMessage](logBufferSize),
		events:     pubsub.NewBrokerWithBuffer[ToolEvent](128),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// RegisterTool registers a tool with its handler.
func (s *Server) RegisterTool(tool Tool, handler ToolHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[tool.Name] = tool
	s.handlers[tool.Name] = handler
	log.Debug(log.CatMCP, "Registered tool", "name", tool.Name)
}

// Events returns the broker that publishes a ToolEvent per finished call.
func (s *Server) Events() *pubsub.Broker[ToolEvent] {
	return s.events
}

// Log queues payload as a notifications/message to the client. It never
// blocks; messages below the level set by logging/setLevel are dropped
// when written.
func (s *Server) Log(level gemini.Severity, payload string) {
	s.logs.Publish(pubsub.MessageEvent, LogMessage{Level: level, Data: payload})
}

// Serve reads requests from stdin and writes responses and notifications to
// stdout until stdin is exhausted or Stop is called. Tool calls run
// concurrently; Serve returns after those in flight have finished.
func (s *Server) Serve(stdin io.Reader, stdout io.Writer) error {
	s.writeMu.Lock()
	s.writer = stdout
	s.writeMu.Unlock()

	pumpCtx, stopPump := context.WithCancel(context.Background())
	logs := s.logs.Subscribe(pumpCtx)
	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		for ev := range logs {
			s.sendLog(ev.Payload)
		}
	}()

	err := s.run(stdin)

	s.calls.Wait()
	stopPump()
	<-pumpDone
	return err
}

// ServeHTTP returns a handler for single request/response MCP over HTTP.
// Log notifications are not delivered over this transport.
func (s *Server) ServeHTTP() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		body, err := io.ReadAll(io.LimitReader(r.Body, maxMessageSize))
		if err != nil {
			http.Error(w, "Failed to read request", http.StatusBadRequest)
			return
		}

		response := s.handleRequestBytes(r.Context(), body)
		if response == nil {
			w.WriteHeader(http.StatusAccepted)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(response); err != nil {
			log.Debug(log.CatMCP, "Failed to write response", "error", err)
		}
	})
}

// handleRequestBytes processes a single JSON-RPC message synchronously.
// Returns nil for notifications.
func (s *Server) handleRequestBytes(ctx context.Context, body []byte) []byte {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		data, _ := json.Marshal(NewErrorResponse(nil, NewParseError(err.Error())))
		return data
	}

	if req.IsNotification() {
		s.handleNotification(&req)
		return nil
	}

	result, rpcErr := s.dispatch(ctx, &req)
	var resp *Response
	if rpcErr != nil {
		resp = NewErrorResponse(req.ID, rpcErr)
	} else {
		resp = NewResponse(req.ID, result)
	}
	data, _ := json.Marshal(resp)
	return data
}

// Stop cancels in-flight tool calls and waits for them to return.
func (s *Server) Stop() {
	s.cancel()
	s.calls.Wait()
	s.logs.Close()
	s.events.Close()
}

// run is the main server loop.
func (s *Server) run(stdin io.Reader) error {
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		log.Debug(log.CatMCP, "Received message", "raw", string(line))

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.sendError(nil, NewParseError(err.Error()))
			continue
		}

		switch {
		case req.IsNotification():
			s.handleNotification(&req)
		case req.Method == MethodToolsCall:
			s.startToolCall(req)
		default:
			s.handleRequest(&req)
		}

		select {
		case <-s.ctx.Done():
			return s.ctx.Err()
		default:
		}
	}

	if err := scanner.Err(); err != nil {
		log.Debug(log.CatMCP, "Scanner error", "error", err)
		return fmt.Errorf("reading input: %w", err)
	}

	return nil
}

// handleRequest processes a JSON-RPC request and sends a response.
func (s *Server) handleRequest(req *Request) {
	result, rpcErr := s.dispatch(s.ctx, req)
	if rpcErr != nil {
		s.sendError(req.ID, rpcErr)
	} else {
		s.sendResult(req.ID, result)
	}
}

// startToolCall runs a tools/call request on its own goroutine so a long
// Gemini run does not block other requests. The call can be cancelled with
// notifications/cancelled.
func (s *Server) startToolCall(req Request) {
	ctx, cancel := context.WithCancel(s.ctx)
	key := requestKey(req.ID)

	s.inflightMu.Lock()
	s.inflight[key] = cancel
	s.inflightMu.Unlock()

	s.calls.Add(1)
	go func() {
		defer s.calls.Done()
		defer func() {
			s.inflightMu.Lock()
			delete(s.inflight, key)
			s.inflightMu.Unlock()
			cancel()
		}()

		result, rpcErr := s.dispatch(ctx, &req)
		if rpcErr != nil {
			s.sendError(req.ID, rpcErr)
			return
		}
		s.sendResult(req.ID, result)
	}()
}

// dispatch routes a request to its method handler.
func (s *Server) dispatch(ctx context.Context, req *Request) (any, *RPCError) {
	log.Debug(log.CatMCP, "Handling request", "method", req.Method)

	switch req.Method {
	case MethodInitialize:
		return s.handleInitialize(req.Params)
	case MethodToolsList:
		return s.handleToolsList(req.Params)
	case MethodToolsCall:
		return s.handleToolsCall(ctx, requestKey(req.ID), req.Params)
	case MethodLoggingSetLevel:
		return s.handleSetLevel(req.Params)
	case MethodPing:
		return struct{}{}, nil
	default:
		return nil, NewMethodNotFound(req.Method)
	}
}

// handleNotification processes a JSON-RPC notification (no response needed).
func (s *Server) handleNotification(req *Request) {
	log.Debug(log.CatMCP, "Handling notification", "method", req.Method)

	switch req.Method {
	case NotifyInitialized:
		s.mu.Lock()
		s.initialized = true
		s.mu.Unlock()
		log.Debug(log.CatMCP, "Client initialized")

	case NotifyCancelled:
		var p CancelledParams
		if err := json.Unmarshal(req.Params, &p); err != nil {
			log.Debug(log.CatMCP, "Malformed cancellation", "error", err)
			return
		}
		key := requestKey(p.RequestID)
		s.inflightMu.Lock()
		cancel, ok := s.inflight[key]
		s.inflightMu.Unlock()
		if ok {
			cancel()
		}
		log.Debug(log.CatMCP, "Request cancelled", "id", key, "found", ok, "reason", p.Reason)

	default:
		// Unknown notifications are ignored
		log.Debug(log.CatMCP, "Unknown notification", "method", req.Method)
	}
}

// Initialized reports whether the client sent notifications/initialized.
func (s *Server) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// handleInitialize processes the initialize request.
func (s *Server) handleInitialize(params json.RawMessage) (any, *RPCError) {
	var p InitializeParams
	if params != nil {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, NewInvalidParams(err.Error())
		}
	}

	log.Debug(log.CatMCP, "Initialize request",
		"clientVersion", p.ProtocolVersion,
		"clientName", p.ClientInfo.Name)

	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: ServerCapability{
			Tools:   &ToolsCapability{},
			Logging: &LoggingCapability{},
		},
		ServerInfo:   s.info,
		Instructions: s.instructions,
	}, nil
}

// handleToolsList returns the registered tools sorted by name.
func (s *Server) handleToolsList(_ json.RawMessage) (any, *RPCError) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tools := make([]Tool, 0, len(s.tools))
	for _, tool := range s.tools {
		tools = append(tools, tool)
	}
	slices.SortFunc(tools, func(a, b Tool) int { return strings.Compare(a.Name, b.Name) })

	return ToolsListResult{Tools: tools}, nil
}

// handleToolsCall invokes a tool and returns its result.
func (s *Server) handleToolsCall(ctx context.Context, requestID string, params json.RawMessage) (any, *RPCError) {
	var p ToolCallParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, NewInvalidParams(err.Error())
	}

	s.mu.RLock()
	handler, ok := s.handlers[p.Name]
	s.mu.RUnlock()

	if !ok {
		return nil, NewToolNotFound(p.Name)
	}

	log.Debug(log.CatMCP, "Calling tool", "name", p.Name, "id", requestID)

	start := time.Now()
	result, err := handler(ctx, p.Arguments)
	evt := ToolEvent{
		Timestamp: time.Now(),
		ToolName:  p.Name,
		RequestID: requestID,
		Duration:  time.Since(start),
	}

	if err != nil {
		log.Debug(log.CatMCP, "Tool execution failed", "name", p.Name, "error", err)
		evt.IsError, evt.Error = true, err.Error()
		s.events.Publish(pubsub.ToolCallEvent, evt)
		return ErrorResult(err.Error()), nil
	}
	if result == nil {
		result = SuccessResult("")
	}
	evt.IsError = result.IsError
	s.events.Publish(pubsub.ToolCallEvent, evt)
	return result, nil
}

// handleSetLevel sets the minimum severity of log notifications.
func (s *Server) handleSetLevel(params json.RawMessage) (any, *RPCError) {
	var p SetLevelParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, NewInvalidParams(err.Error())
	}
	level, ok := gemini.ParseSeverity(p.Level)
	if !ok {
		return nil, NewInvalidParams(fmt.Sprintf("unknown log level: %q", p.Level))
	}

	s.SetMinLevel(level)
	log.Debug(log.CatMCP, "Log level set", "level", string(level))
	return struct{}{}, nil
}

// SetMinLevel sets the notification threshold until the client changes it
// with logging/setLevel.
func (s *Server) SetMinLevel(level gemini.Severity) {
	s.mu.Lock()
	s.minLevel = level
	s.mu.Unlock()
}

// MinLevel returns the current notification threshold.
func (s *Server) MinLevel() gemini.Severity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.minLevel
}

func (s *Server) sendLog(msg LogMessage) {
	if !msg.Level.AtLeast(s.MinLevel()) {
		return
	}
	s.write(NewNotification(NotifyLoggingMessage, LoggingMessageParams{
		Level:  string(msg.Level),
		Logger: s.loggerName,
		Data:   msg.Data,
	}))
}

// sendResult sends a success response.
func (s *Server) sendResult(id json.RawMessage, result any) {
	s.write(NewResponse(id, result))
}

// sendError sends an error response.
func (s *Server) sendError(id json.RawMessage, err *RPCError) {
	s.write(NewErrorResponse(id, err))
}

// write marshals msg and writes it as one line. Writes are serialized so
// concurrent tool calls and log notifications never interleave.
func (s *Server) write(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Debug(log.CatMCP, "Failed to marshal message", "error", err)
		return
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.writer == nil {
		return
	}

	// MCP uses newline-delimited JSON
	data = append(data, '\n')
	if _, err := s.writer.Write(data); err != nil {
		log.Debug(log.CatMCP, "Failed to write message", "error", err)
		return
	}

	log.Debug(log.CatMCP, "Sent message", "raw", string(data[:len(data)-1]))
}

// requestKey normalizes a JSON-RPC id for map lookups.
func requestKey(id json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, id); err != nil {
		return string(id)
	}
	return buf.String()
}
