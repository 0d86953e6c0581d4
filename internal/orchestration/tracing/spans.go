package tracing

// Span attribute keys for Gemini task tracing.
const (
	// Invocation attributes
	AttrInvocationID = "invocation.id"
	AttrWorkDir      = "invocation.cwd"
	AttrHistoryID    = "invocation.history_id"
	AttrOutcome      = "invocation.outcome"

	// Process attributes
	AttrProcessID       = "process.id"
	AttrProcessExitCode = "process.exit_code"
	AttrProcessBinary   = "process.binary"

	// Stream attributes
	AttrStreamEvents    = "stream.events"
	AttrStreamMalformed = "stream.malformed"

	// Session attributes
	AttrSessionID = "session.id"
	AttrModel     = "session.model"
	AttrCostUSD   = "session.cost_usd"

	// Token attributes
	AttrTokensInput  = "tokens.input"
	AttrTokensOutput = "tokens.output"

	// MCP attributes
	AttrMCPToolName  = "mcp.tool.name"
	AttrMCPRequestID = "mcp.request.id"

	// Error attributes
	AttrErrorMessage = "error.message"
	AttrErrorType    = "error.type"
)

// Span names.
const (
	SpanGeminiRun = "gemini.run"
	SpanPrefixMCP = "mcp.tool."
)

// Event names for span events.
const (
	EventProcessStarted = "process.started"
	EventSessionInit    = "session.init"
	EventResult         = "session.result"
	EventStreamError    = "stream.error"
)
