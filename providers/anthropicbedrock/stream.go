package anthropicbedrock

import (
	"encoding/json"
	"io"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentflowhq/engine/modelclient"
)

// streamer adapts a Bedrock ConverseStream event stream to
// modelclient.Streamer, draining Converse events on a background goroutine
// into a buffered channel.
type streamer struct {
	stream *bedrockruntime.ConverseStreamEventStream

	chunks chan modelclient.Chunk
	err    error
}

func newStreamer(stream *bedrockruntime.ConverseStreamEventStream) *streamer {
	s := &streamer{stream: stream, chunks: make(chan modelclient.Chunk, 32)}
	go s.run()
	return s
}

func (s *streamer) run() {
	defer close(s.chunks)
	for event := range s.stream.Events() {
		switch e := event.(type) {
		case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
			switch d := e.Value.Delta.(type) {
			case *brtypes.ContentBlockDeltaMemberText:
				s.chunks <- modelclient.Chunk{TextDelta: d.Value}
			case *brtypes.ContentBlockDeltaMemberToolUse:
				payload := decodeDocumentDelta(d.Value.Input)
				s.chunks <- modelclient.Chunk{ToolCall: &modelclient.ToolCall{Payload: payload}}
			}
		case *brtypes.ConverseStreamOutputMemberMessageStop:
			s.chunks <- modelclient.Chunk{StopReason: string(e.Value.StopReason)}
		case *brtypes.ConverseStreamOutputMemberMetadata:
			if e.Value.Usage != nil {
				usage := modelclient.TokenUsage{
					InputTokens:  int(derefInt32(e.Value.Usage.InputTokens)),
					OutputTokens: int(derefInt32(e.Value.Usage.OutputTokens)),
					TotalTokens:  int(derefInt32(e.Value.Usage.TotalTokens)),
				}
				s.chunks <- modelclient.Chunk{Usage: &usage}
			}
		}
	}
	if err := s.stream.Err(); err != nil {
		s.err = err
	}
}

// Recv returns the next chunk, or io.EOF once the stream completes cleanly.
func (s *streamer) Recv() (modelclient.Chunk, error) {
	chunk, ok := <-s.chunks
	if !ok {
		if s.err != nil {
			return modelclient.Chunk{}, translateError(s.err)
		}
		return modelclient.Chunk{}, io.EOF
	}
	return chunk, nil
}

func (s *streamer) Close() error {
	return s.stream.Close()
}

func decodeDocumentDelta(v *string) json.RawMessage {
	if v == nil {
		return nil
	}
	return json.RawMessage(*v)
}
