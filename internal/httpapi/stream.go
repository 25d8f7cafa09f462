package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"log"
	"net/http"

	"clinic-frontdesk/internal/audio"
	"clinic-frontdesk/pkg"
)

// SpeechPipeline consumes the caller's decoded audio and produces audio
// to speak back.  Implementations must not block: the stream handler
// calls ProcessAudio inline on the media path, once per 20 ms frame.
type SpeechPipeline interface {
	// ProcessAudio takes one frame of 16-bit little-endian PCM and
	// returns PCM to play to the caller, or nil when there is nothing
	// to say yet.
	ProcessAudio(contextKey string, pcm []byte) []byte
}

// streamEvent is one message on the bidirectional media stream.  The
// provider sends start, media and stop events; the service answers with
// media events of its own.
type streamEvent struct {
	Event string `json:"event"`
	Start struct {
		CallSid string `json:"callSid"`
	} `json:"start"`
	Media struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

type mediaOut struct {
	Event string `json:"event"`
	Media struct {
		Payload string `json:"payload"`
	} `json:"media"`
}

func newMediaOut(ulaw []byte) mediaOut {
	var ev mediaOut
	ev.Event = "media"
	ev.Media.Payload = base64.StdEncoding.EncodeToString(ulaw)
	return ev
}

// handleStream carries the live audio leg of a call.  Inbound media
// frames are mu-law; they are expanded to linear PCM for the speech
// pipeline, and the pipeline's replies are compressed back before going
// out.  The greeting prompt, already encoded at load time, plays first.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	key := r.URL.Query().Get("contextKey")
	if key == "" {
		writeError(w, http.StatusBadRequest, "missing contextKey")
		return
	}
	if _, ok := s.Contexts.Get(key); !ok {
		writeError(w, http.StatusNotFound, "unknown context key")
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)

	for _, frame := range s.PromptFrames {
		if err := enc.Encode(newMediaOut(frame)); err != nil {
			return
		}
	}
	if flusher != nil {
		flusher.Flush()
	}

	dec := json.NewDecoder(r.Body)
	for {
		var ev streamEvent
		if err := dec.Decode(&ev); err != nil {
			if err != io.EOF {
				log.Printf("stream %s: decode: %v", key, err)
			}
			return
		}
		switch ev.Event {
		case "start":
			// The start event carries the provider call id; register it
			// as an alias so status callbacks find this context.
			if sid := ev.Start.CallSid; sid != "" {
				if err := s.Contexts.Alias(key, sid); err == nil {
					_ = s.Contexts.Update(key, func(c *pkg.CallContext) {
						c.ProviderCallID = sid
					})
				}
			}
		case "media":
			ulaw, err := base64.StdEncoding.DecodeString(ev.Media.Payload)
			if err != nil {
				log.Printf("stream %s: bad media payload: %v", key, err)
				continue
			}
			if s.Pipeline == nil {
				continue
			}
			reply := s.Pipeline.ProcessAudio(key, audio.DecodeULaw(ulaw))
			if len(reply) == 0 {
				continue
			}
			out, err := audio.EncodeULaw(reply)
			if err != nil {
				log.Printf("stream %s: encode reply: %v", key, err)
				continue
			}
			if err := enc.Encode(newMediaOut(out)); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		case "stop":
			return
		}
	}
}
