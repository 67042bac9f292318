package agent

import (
	"context"
	"net/http"

	"github.com/ManageCommand/managecommand/internal/catalog"
	"github.com/ManageCommand/managecommand/internal/transport"
)

// Server API paths. The dev server in internal/server implements the same
// contract.
const (
	pathSync      = "/api/agent/sync"
	pathHeartbeat = "/api/agent/heartbeat"
	pathPending   = "/api/agent/executions/pending"
)

// serverClient wraps the transport with the four control-server operations.
type serverClient struct {
	agentID string
	http    *transport.Client
}

func newServerClient(agentID string, tc *transport.Client) *serverClient {
	return &serverClient{agentID: agentID, http: tc}
}

func (c *serverClient) SyncCommands(ctx context.Context, commands []catalog.Descriptor, hash string) (syncResponse, error) {
	resp, err := c.http.Send(ctx, http.MethodPost, pathSync, syncRequest{
		AgentID:  c.agentID,
		Commands: commands,
		Hash:     hash,
	})
	if err != nil {
		return syncResponse{}, err
	}
	var out syncResponse
	if err := transport.DecodeJSON(resp, &out); err != nil {
		return syncResponse{}, err
	}
	return out, nil
}

func (c *serverClient) Heartbeat(ctx context.Context, payload heartbeatRequest) (heartbeatResponse, error) {
	payload.AgentID = c.agentID
	resp, err := c.http.Send(ctx, http.MethodPost, pathHeartbeat, payload)
	if err != nil {
		return heartbeatResponse{}, err
	}
	out := heartbeatResponse{CommandsInSync: true}
	if err := transport.DecodeJSON(resp, &out); err != nil {
		return heartbeatResponse{}, err
	}
	return out, nil
}

func (c *serverClient) PendingExecutions(ctx context.Context) ([]ExecutionRequest, error) {
	resp, err := c.http.Send(ctx, http.MethodGet, pathPending, nil)
	if err != nil {
		return nil, err
	}
	var out pendingResponse
	if err := transport.DecodeJSON(resp, &out); err != nil {
		return nil, err
	}
	return out.Executions, nil
}

func (c *serverClient) ReportResult(ctx context.Context, result ExecutionResult) error {
	path := resultPath(result.ID)
	_, err := c.http.Send(ctx, http.MethodPost, path, result)
	return err
}

func resultPath(id string) string {
	return "/api/agent/executions/" + id + "/result"
}
