package controller

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"

	"querydash/pkg/httputil"
	"querydash/pkg/jobs"

	"github.com/gorilla/mux"
)

// loadJob returns a job of the caller's organization
func (c *Controller) loadJob(w http.ResponseWriter, r *http.Request) (jobs.Job, bool) {
	p, _, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return jobs.Job{}, false
	}
	job, err := c.queue.Get(mux.Vars(r)["id"])
	if err != nil || job.OrgID != p.OrgID {
		httputil.WriteError(w, http.StatusNotFound, "Job not found")
		return jobs.Job{}, false
	}
	return job, true
}

// HandleGetJob returns the state of a refresh job
func (c *Controller) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := c.loadJob(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"job": job})
}

// HandleCancelJob cancels a pending or running job
func (c *Controller) HandleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := c.loadJob(w, r)
	if !ok {
		return
	}
	job, err := c.queue.Cancel(job.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"job": job})
}

// HandleJobsWebSocket streams job state changes of the caller's
// organization. Clients may send {"type":"filter","data":{"job_ids":[...]}}
// to follow specific jobs only.
func (c *Controller) HandleJobsWebSocket(w http.ResponseWriter, r *http.Request) {
	p, _, err := currentUser(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade error", "error", err)
		return
	}

	client := &Client{conn: conn, orgID: p.OrgID}

	c.clientsMutex.Lock()
	c.clients[client] = true
	c.clientsMutex.Unlock()

	defer func() {
		c.clientsMutex.Lock()
		delete(c.clients, client)
		c.clientsMutex.Unlock()
		conn.Close()
	}()

	// Read filter updates from client
	for {
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		if msg.Type == "filter" {
			var filter ClientFilter
			if err := json.Unmarshal(msg.Data, &filter); err != nil {
				slog.Error("failed to parse filter", "error", err)
				continue
			}
			client.mu.Lock()
			client.filter = filter
			client.mu.Unlock()
		}
	}
}

func (client *Client) wants(job jobs.Job) bool {
	if job.OrgID != client.orgID {
		return false
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	return len(client.filter.JobIDs) == 0 || slices.Contains(client.filter.JobIDs, job.ID)
}

// broadcastJobs forwards queue events to interested clients until Shutdown
func (c *Controller) broadcastJobs() {
	events, unsubscribe := c.queue.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-c.ctx.Done():
			return
		case job, ok := <-events:
			if !ok {
				return
			}
			c.broadcast(job)
		}
	}
}

func (c *Controller) broadcast(job jobs.Job) {
	c.clientsMutex.RLock()
	clients := make([]*Client, 0, len(c.clients))
	for client := range c.clients {
		clients = append(clients, client)
	}
	c.clientsMutex.RUnlock()

	msg := map[string]any{"type": "job", "data": job}
	for _, client := range clients {
		if !client.wants(job) {
			continue
		}
		client.mu.Lock()
		err := client.conn.WriteJSON(msg)
		client.mu.Unlock()
		if err != nil {
			slog.Debug("failed to send job update", "error", err)
		}
	}
}
