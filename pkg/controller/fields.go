package controller

import (
	"encoding/json"
	"fmt"

	"querydash/pkg/store"
)

type queryField struct {
	column string
	set    func(q *store.Query, raw json.RawMessage) error
}

// queryFields maps request keys onto query columns. Keys not listed here
// (id, version, api_key, user, org...) are never written from a request.
var queryFields = map[string]queryField{
	"name": {store.ColName, func(q *store.Query, raw json.RawMessage) error {
		return json.Unmarshal(raw, &q.Name)
	}},
	"description": {store.ColDescription, func(q *store.Query, raw json.RawMessage) error {
		q.Description = nil
		return json.Unmarshal(raw, &q.Description)
	}},
	"query": {store.ColQueryText, func(q *store.Query, raw json.RawMessage) error {
		return json.Unmarshal(raw, &q.QueryText)
	}},
	"data_source_id": {store.ColDataSourceID, func(q *store.Query, raw json.RawMessage) error {
		q.DataSourceID = nil
		return json.Unmarshal(raw, &q.DataSourceID)
	}},
	"latest_query_data_id": {store.ColLatestQueryDataID, func(q *store.Query, raw json.RawMessage) error {
		q.LatestQueryDataID = nil
		return json.Unmarshal(raw, &q.LatestQueryDataID)
	}},
	"schedule": {store.ColSchedule, func(q *store.Query, raw json.RawMessage) error {
		q.Schedule = nil
		if err := json.Unmarshal(raw, &q.Schedule); err != nil {
			return err
		}
		return validateSchedule(q.Schedule)
	}},
	"options": {store.ColOptions, func(q *store.Query, raw json.RawMessage) error {
		q.Options = nil
		return json.Unmarshal(raw, &q.Options)
	}},
	"is_draft": {store.ColIsDraft, func(q *store.Query, raw json.RawMessage) error {
		return json.Unmarshal(raw, &q.IsDraft)
	}},
	"tags": {store.ColTags, func(q *store.Query, raw json.RawMessage) error {
		q.Tags = nil
		if err := json.Unmarshal(raw, &q.Tags); err != nil {
			return err
		}
		q.Tags = store.NormalizeTags(q.Tags)
		return nil
	}},
}

var (
	createFields = []string{"name", "description", "query", "schedule", "options", "tags"}
	updateFields = []string{
		"name", "description", "query", "data_source_id", "latest_query_data_id",
		"schedule", "options", "is_draft", "tags",
	}
)

// applyQueryFields copies the allowed keys present in body onto q and
// returns the columns that changed
func applyQueryFields(q *store.Query, body map[string]json.RawMessage, allowed []string) ([]string, error) {
	var columns []string
	for _, key := range allowed {
		raw, ok := body[key]
		if !ok {
			continue
		}
		field := queryFields[key]
		if err := field.set(q, raw); err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		columns = append(columns, field.column)
	}
	return columns, nil
}

// decodeField unmarshals one key of a JSON object body
func decodeField(body map[string]json.RawMessage, key string, v any) error {
	raw, ok := body[key]
	if !ok {
		return fmt.Errorf("%s is required", key)
	}
	return json.Unmarshal(raw, v)
}
