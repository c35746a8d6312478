package controller

import (
	"context"

	"querydash/pkg/schedule"
	"querydash/pkg/store"
)

// QueryResponse is the API form of a query
type QueryResponse struct {
	store.Query
	ScheduleDescription string                `json:"schedule_description"`
	User                *store.UserSummary    `json:"user,omitempty"`
	LastModifiedBy      *store.UserSummary    `json:"last_modified_by,omitempty"`
	Visualizations      []store.Visualization `json:"visualizations,omitempty"`
	CanEdit             *bool                 `json:"can_edit,omitempty"`
	IsFavorite          bool                  `json:"is_favorite"`
}

// ListResponse is one page of queries
type ListResponse struct {
	Count    int64           `json:"count"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
	Results  []QueryResponse `json:"results"`
}

func serializeQuery(q store.Query, users map[int64]*store.User) QueryResponse {
	if q.Tags == nil {
		q.Tags = []string{}
	}
	if q.Options == nil {
		q.Options = map[string]any{}
	}
	resp := QueryResponse{
		Query:               q,
		ScheduleDescription: schedule.Humanize(q.Schedule),
	}
	if u, ok := users[q.UserID]; ok {
		summary := u.Summary()
		resp.User = &summary
	}
	if q.LastModifiedByID != nil {
		if u, ok := users[*q.LastModifiedByID]; ok {
			summary := u.Summary()
			resp.LastModifiedBy = &summary
		}
	}
	return resp
}

// serializeQueries loads the owners and editors of queries in one round trip
func (c *Controller) serializeQueries(ctx context.Context, orgID int64, queries []store.Query) ([]QueryResponse, error) {
	var ids []int64
	for _, q := range queries {
		ids = append(ids, q.UserID)
		if q.LastModifiedByID != nil {
			ids = append(ids, *q.LastModifiedByID)
		}
	}
	users, err := c.store.GetUsers(ctx, orgID, ids)
	if err != nil {
		return nil, err
	}

	out := make([]QueryResponse, 0, len(queries))
	for _, q := range queries {
		out = append(out, serializeQuery(q, users))
	}
	return out, nil
}

// serializeFull adds visualizations, can_edit and is_favorite for one query
func (c *Controller) serializeFull(ctx context.Context, q *store.Query, viewer *store.User, canEdit bool) (QueryResponse, error) {
	serialized, err := c.serializeQueries(ctx, q.OrgID, []store.Query{*q})
	if err != nil {
		return QueryResponse{}, err
	}
	resp := serialized[0]

	visualizations, err := c.store.ListVisualizations(ctx, q.ID)
	if err != nil {
		return QueryResponse{}, err
	}
	resp.Visualizations = visualizations
	resp.CanEdit = &canEdit

	if viewer != nil {
		resp.IsFavorite, err = c.store.IsFavorite(ctx, store.ObjectTypeQuery, q.ID, viewer.ID)
		if err != nil {
			return QueryResponse{}, err
		}
	}
	return resp, nil
}
