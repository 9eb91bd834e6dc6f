package homeassistant

import (
	"encoding/json"
	"time"

	"github.com/frostdev-ops/remote-bridge-go/pkg/errors"
)

// DefaultSampleRate is the assist audio sample rate used when the Remote
// does not specify one.
const DefaultSampleRate = 16000

// assistSessionMaxAge is the age, measured from creation, after which an
// assist session is swept from the table. Activity does not extend it.
const assistSessionMaxAge = 60 * time.Second

// RunPipelineParams describes an assist pipeline run requested by a Remote.
type RunPipelineParams struct {
	EntityID string
	// SessionID is the Remote's session-scoped session id.
	SessionID  int64
	SampleRate int
	// Timeout is the pipeline run timeout in seconds, enforced by HA.
	Timeout int
	// SpeechResponse selects tts as the end stage instead of intent.
	SpeechResponse bool
	PipelineID     string
}

// RunAssistPipeline starts a voice pipeline run and waits up to the request
// timeout for Home Assistant's synchronous result. On failure the session is
// dropped; on success assist events stream in tagged with the same id.
func (c *Client) RunAssistPipeline(params RunPipelineParams) error {
	c.sweepAssistSessions()

	if params.SampleRate == 0 {
		params.SampleRate = DefaultSampleRate
	}

	id := c.nextMsgID()
	c.log.WithField("id", id).WithField("session_id", params.SessionID).
		Info("Starting assist session")

	c.assistMu.Lock()
	c.assistSessions[id] = &assistSession{
		requestID: id,
		entityID:  params.EntityID,
		sessionID: params.SessionID,
		created:   time.Now(),
	}
	c.assistMu.Unlock()

	req := c.pending.add(id, pendingAssistRun, time.Now().Add(requestTimeout), true)

	endStage := "intent"
	if params.SpeechResponse {
		endStage = "tts"
	}
	msg := runPipelineMsg{
		ID:         id,
		Type:       "assist_pipeline/run",
		StartStage: "stt",
		EndStage:   endStage,
		Input:      map[string]interface{}{"sample_rate": params.SampleRate},
		Timeout:    params.Timeout,
		Pipeline:   params.PipelineID,
	}
	if err := c.sendJSON(msg); err != nil {
		c.pending.remove(id)
		c.removeAssistSession(id)
		return err
	}

	result, err := c.awaitResult(id, req, requestTimeout)
	if err != nil {
		c.removeAssistSession(id)
		return errors.ServiceUnavailable("Timeout while waiting for pipeline run result")
	}
	if !result.Success {
		c.removeAssistSession(id)
		return pipelineError(result, "run pipeline")
	}
	return nil
}

// ListAssistPipelines fetches the configured assist pipelines. With
// sttRequired the result is filtered to speech-capable pipelines and the
// preferred pipeline is cleared if it no longer exists after filtering.
func (c *Client) ListAssistPipelines(sttRequired bool) (*PipelinesResult, error) {
	id := c.nextMsgID()
	req := c.pending.add(id, pendingListPipelines, time.Now().Add(requestTimeout), true)

	if err := c.sendJSON(map[string]interface{}{
		"id":   id,
		"type": "assist_pipeline/pipeline/list",
	}); err != nil {
		c.pending.remove(id)
		return nil, err
	}

	result, err := c.awaitResult(id, req, requestTimeout)
	if err != nil {
		return nil, errors.ServiceUnavailable("Timeout while waiting for pipeline list result")
	}
	if !result.Success {
		return nil, pipelineError(result, "list assist pipelines")
	}

	var pipelines PipelinesResult
	if err := json.Unmarshal(result.Result, &pipelines); err != nil {
		return nil, errors.Internal("Unexpected list assist pipelines response")
	}

	if sttRequired {
		speechCapable := pipelines.Pipelines[:0]
		for _, p := range pipelines.Pipelines {
			if p.STTEngine != nil && *p.STTEngine != "" {
				speechCapable = append(speechCapable, p)
			}
		}
		pipelines.Pipelines = speechCapable

		if preferred := pipelines.PreferredPipeline; preferred != nil {
			found := false
			for _, p := range pipelines.Pipelines {
				if p.ID == *preferred {
					found = true
					break
				}
			}
			if !found {
				c.log.WithField("pipeline", *preferred).
					Warn("Preferred assist pipeline not found, resetting")
				pipelines.PreferredPipeline = nil
			}
		}
	}

	return &pipelines, nil
}

// SendAudioChunk forwards one Remote audio chunk to Home Assistant as a
// binary frame, prefixed with the session's stt binary handler byte.
func (c *Client) SendAudioChunk(sessionID int64, data []byte) error {
	session := c.assistSessionBySessionID(sessionID)
	if session == nil {
		return errors.BadRequest("No assist session found for session id %d", sessionID)
	}

	c.assistMu.Lock()
	handlerID := session.sttBinaryHandlerID
	c.assistMu.Unlock()
	if handlerID == nil {
		return errors.BadRequest("No binary handler id for session id %d", sessionID)
	}

	buffer := make([]byte, 0, len(data)+1)
	buffer = append(buffer, *handlerID)
	buffer = append(buffer, data...)

	return c.sendBinary(buffer)
}

// handleAssistEvent translates a pipeline event streamed for a known assist
// session. Error events may arrive after run-end and are still forwarded.
func (c *Client) handleAssistEvent(session *assistSession, raw json.RawMessage) {
	var event assistEventMsg
	if err := json.Unmarshal(raw, &event); err != nil {
		c.log.WithError(err).Warn("Error parsing assist pipeline event")
		return
	}

	if event.Type == "run-start" {
		if handlerID, ok := sttBinaryHandlerID(event.Data); ok {
			c.assistMu.Lock()
			session.sttBinaryHandlerID = &handlerID
			c.assistMu.Unlock()
		}
	}

	c.events.AssistEvent(AssistEvent{
		ClientID:  c.id,
		SessionID: session.sessionID,
		EntityID:  session.entityID,
		Type:      event.Type,
		Data:      event.Data,
	})
}

func sttBinaryHandlerID(data map[string]interface{}) (byte, bool) {
	runnerData, ok := data["runner_data"].(map[string]interface{})
	if !ok {
		return 0, false
	}
	id, ok := runnerData["stt_binary_handler_id"].(float64)
	if !ok || id < 0 || id > 255 {
		return 0, false
	}
	return byte(id), true
}

func (c *Client) assistSessionByRequest(requestID uint32) *assistSession {
	c.assistMu.Lock()
	defer c.assistMu.Unlock()
	return c.assistSessions[requestID]
}

func (c *Client) assistSessionBySessionID(sessionID int64) *assistSession {
	c.assistMu.Lock()
	defer c.assistMu.Unlock()
	for _, session := range c.assistSessions {
		if session.sessionID == sessionID {
			return session
		}
	}
	return nil
}

func (c *Client) removeAssistSession(requestID uint32) {
	c.assistMu.Lock()
	delete(c.assistSessions, requestID)
	c.assistMu.Unlock()
}

// sweepAssistSessions purges sessions created longer ago than the maximum
// age. Called on every new session creation.
func (c *Client) sweepAssistSessions() {
	cutoff := time.Now().Add(-assistSessionMaxAge)
	c.assistMu.Lock()
	defer c.assistMu.Unlock()
	for id, session := range c.assistSessions {
		if session.created.Before(cutoff) {
			c.log.WithField("session_id", session.sessionID).Debug("Purging expired assist session")
			delete(c.assistSessions, id)
		}
	}
}

// pipelineError maps a failed pipeline result into a service error.
func pipelineError(result resultMsg, action string) error {
	if result.Error != nil {
		if result.Error.Code == "pipeline-not-found" {
			return errors.NotFound("Pipeline not found")
		}
		return errors.ServiceUnavailable("Pipeline error %s: %s", result.Error.Code, result.Error.Message)
	}
	return errors.ServiceUnavailable("Failed to %s", action)
}
