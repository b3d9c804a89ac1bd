package consts

import "time"

// Parser limits
const (
	// MaxToolNameBytes is the longest span accepted between the tool open and close markers
	MaxToolNameBytes = 64
	// MaxErrorExcerpt is the maximum number of characters of raw payload carried by parse errors
	MaxErrorExcerpt = 200
)

// Buffer sizes for various operations
const (
	// BufferSize1KB is 1 kilobyte
	BufferSize1KB = 1024
	// BufferSize64KB is 64 kilobytes
	BufferSize64KB = 64 * 1024
	// BufferSize1MB is 1 megabyte
	BufferSize1MB = 1024 * 1024
	// BufferSize10MB is 10 megabytes
	BufferSize10MB = 10 * 1024 * 1024
)

// Request limits
const (
	// MaxChatBodyBytes bounds the chat request body, attachments included
	MaxChatBodyBytes = BufferSize10MB
	// MaxWebSocketMessage bounds a single inbound websocket frame
	MaxWebSocketMessage = BufferSize1MB
)

// Tool defaults
const (
	// DefaultSearchResults is the number of web_search results when none is requested
	DefaultSearchResults = 5
	// MaxSearchResults caps web_search results
	MaxSearchResults = 10
	// JobTailLines is how many trailing output lines of a background job reach model context
	JobTailLines = 20
)

// Timeouts for various operations
const (
	// Timeout1Second is a 1 second timeout
	Timeout1Second = 1 * time.Second
	// Timeout3Seconds is a 3 second timeout
	Timeout3Seconds = 3 * time.Second
	// Timeout5Seconds is a 5 second timeout
	Timeout5Seconds = 5 * time.Second
	// Timeout10Seconds is a 10 second timeout
	Timeout10Seconds = 10 * time.Second
	// Timeout15Seconds is a 15 second timeout
	Timeout15Seconds = 15 * time.Second
	// Timeout30Seconds is a 30 second timeout
	Timeout30Seconds = 30 * time.Second
	// Timeout60Seconds is a 60 second timeout (1 minute)
	Timeout60Seconds = 60 * time.Second
)

// Retry and attempt limits
const (
	// DefaultMaxRounds is the default number of model rounds per chat turn
	DefaultMaxRounds = 1
	// MaxRounds caps continuation rounds regardless of configuration
	MaxRounds = 8
)
