package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// VoiceClient places outbound agent calls for escalations that the text
// channel could not reach.
type VoiceClient struct {
	baseURL    string
	apiKey     string
	agentID    string
	fromNumber string
	client     *http.Client
}

func NewVoiceClient(baseURL, apiKey, agentID, fromNumber string) *VoiceClient {
	return &VoiceClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		agentID:    agentID,
		fromNumber: fromNumber,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type createCallRequest struct {
	FromNumber       string            `json:"from_number"`
	ToNumber         string            `json:"to_number"`
	OverrideAgentID  string            `json:"override_agent_id,omitempty"`
	DynamicVariables map[string]string `json:"retell_llm_dynamic_variables,omitempty"`
}

type createCallResponse struct {
	CallID string `json:"call_id"`
}

func (c *VoiceClient) PlaceCall(ctx context.Context, to string, vars map[string]string) (string, error) {
	reqBody, err := json.Marshal(createCallRequest{
		FromNumber:       c.fromNumber,
		ToNumber:         to,
		OverrideAgentID:  c.agentID,
		DynamicVariables: vars,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/create-phone-call", bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected status code: %d body=%q", resp.StatusCode, string(body))
	}

	var cr createCallResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		return "", fmt.Errorf("failed to decode json: %w body=%q", err, string(body))
	}
	if cr.CallID == "" {
		return "", fmt.Errorf("missing call_id in response body=%q", string(body))
	}

	return cr.CallID, nil
}
