package voice

import "time"

// Inbound frame types accepted from the client.
const (
	inPing                string = "ping"
	inSetLanguage         string = "set_language"
	inChatWithAudio       string = "chat_with_audio"
	inStartClass          string = "start_class"
	inInteractiveTeaching string = "interactive_teaching"
	inSTTAudioChunk       string = "stt_audio_chunk"
	inContinueTeaching    string = "continue_teaching"
	inEndTeaching         string = "end_teaching"
	inAudioOnly           string = "audio_only"
	inTranscribeAudio     string = "transcribe_audio"
	inGetMetrics          string = "get_metrics"
)

// Outbound frame types sent to the client.
const (
	outConnectionReady         string = "connection_ready"
	outPong                    string = "pong"
	outProcessingStarted       string = "processing_started"
	outTextResponse            string = "text_response"
	outAudioGenerationStarted  string = "audio_generation_started"
	outAudioChunk              string = "audio_chunk"
	outAudioGenerationComplete string = "audio_generation_complete"
	outTeachingStarted         string = "interactive_teaching_started"
	outTeachingAudioChunk      string = "teaching_audio_chunk"
	outTeachingSegmentComplete string = "teaching_segment_complete"
	outUserInterruptDetected   string = "user_interrupt_detected"
	outUserQuestion            string = "user_question"
	outAgentResponse           string = "agent_response"
	outAudioComplete           string = "audio_complete"
	outTeachingEnded           string = "teaching_ended"
	outMetrics                 string = "metrics"
	outError                   string = "error"
)

// Inbound is one JSON frame received from the client. A single shape covers
// all message types; unused fields stay zero.
type Inbound struct {
	Type     string `json:"type"`
	Message  string `json:"message,omitempty"`
	Text     string `json:"text,omitempty"`
	Language string `json:"language,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	CourseID string `json:"course_id,omitempty"`

	// Audio carries base64 PCM16 for stt_audio_chunk; AudioData carries the
	// same for transcribe_audio.
	Audio     string `json:"audio,omitempty"`
	AudioData string `json:"audio_data,omitempty"`

	ModuleIndex   int `json:"module_index,omitempty"`
	SubTopicIndex int `json:"sub_topic_index,omitempty"`
}

// Outbound is one JSON frame sent to the client. ClientID and Timestamp are
// stamped on every frame by the session before it hits the socket.
type Outbound struct {
	Type      string `json:"type"`
	ClientID  string `json:"client_id"`
	Timestamp string `json:"timestamp"`

	Text  string `json:"text,omitempty"`
	Agent string `json:"agent,omitempty"`
	Error string `json:"error,omitempty"`

	ChunkID      int    `json:"chunk_id,omitempty"`
	AudioData    string `json:"audio_data,omitempty"`
	Size         int    `json:"size,omitempty"`
	IsFirstChunk bool   `json:"is_first_chunk,omitempty"`

	TotalChunks       int     `json:"total_chunks,omitempty"`
	TotalSize         int     `json:"total_size,omitempty"`
	FirstChunkLatency float64 `json:"first_chunk_latency,omitempty"`

	// Metrics payload for get_metrics replies.
	AudioChunksSent int `json:"audio_chunks_sent,omitempty"`
	Interrupts      int `json:"interrupts,omitempty"`
}

// stamp fills the per-frame envelope fields.
func (f Outbound) stamp(clientID string, now time.Time) Outbound {
	f.ClientID = clientID
	f.Timestamp = now.UTC().Format(time.RFC3339Nano)
	return f
}
