// swaggo annotation stubs for the loopback API. The handlers live in
// Register; the functions below only carry the route documentation.
package hostapi

// invokeRequest is the body for POST /api/voice/invoke.
type invokeRequest struct {
	Method    string         `json:"method"    example:"makeCall"`
	Arguments map[string]any `json:"arguments"`
}

// swagVoiceInvoke is a documentation stub for POST /api/voice/invoke.
//
//	@Summary	Run one plugin command
//	@Description	Runs the named command (tokens, makeCall, hangUp, answer, toggleMute, ...) and waits for its single reply.\nArgument problems come back as ok=false with code INVALID_ARGUMENTS; unknown commands set notImplemented.
//	@Tags		voice
//	@Accept		json
//	@Produce	json
//	@Param		body	body		invokeRequest	true	"Command"
//	@Success	200		{object}	Reply
//	@Failure	400		{string}	string	"bad json or missing method"
//	@Router		/api/voice/invoke [post]
func swagVoiceInvoke() {}

// swagVoiceEvents is a documentation stub for GET /api/voice/events.
//
//	@Summary	WebSocket stream of call events
//	@Description	Each frame is a JSON Frame: type event carries the event string (Ringing, Call Ended, Incoming|from|to|Incoming, ...).\nOne subscriber at a time; a newer subscriber ends this stream with a type end frame.
//	@Tags		voice
//	@Produce	json
//	@Success	101	{object}	Frame
//	@Router		/api/voice/events [get]
func swagVoiceEvents() {}

// swagLogs is a documentation stub for GET /api/logs.
//
//	@Summary	Recent process log lines
//	@Tags		logs
//	@Produce	json
//	@Param		n			query		int		false	"newest n entries"
//	@Param		subsystem	query		string	false	"logger name, e.g. plugin"
//	@Param		level		query		string	false	"minimum level"
//	@Success	200			{array}		logbuf.LogEntry
//	@Failure	400			{string}	string	"unknown level"
//	@Router		/api/logs [get]
func swagLogs() {}
