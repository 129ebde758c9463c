package events

// FrameEncoded is emitted once a request message is framed.
type FrameEncoded struct {
	FullMethod string
	Size       int
}

// TransportFailed is emitted when the transport returned an error instead of
// a response.
type TransportFailed struct {
	FullMethod string
	Err        error
}

// OutcomeParsed is emitted after a response has been interpreted. Err is set
// when the reply could not be decoded.
type OutcomeParsed struct {
	FullMethod string
	Code       int
	Kind       string
	Err        error
}
