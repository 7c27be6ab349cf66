// Package qdrant implements the similarity store against Qdrant's REST
// API: one collection of embedded records plus a tiny meta collection that
// pins the owner identifier.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/engramlabs/engram/pkg/errors"
	"github.com/engramlabs/engram/pkg/memory"
)

// ownerPointID is the fixed point the owner identifier lives on inside the
// meta collection, so it can be read back without any search.
const ownerPointID = "00000000-0000-0000-0000-000000000001"

// Config carries the connection and schema settings.
type Config struct {
	Endpoint   string // e.g. http://localhost:6333
	Collection string
	APIKey     string

	// Dimension and Distance describe the expected vector schema; Initialize
	// verifies the live collection against them.
	Dimension int
	Distance  string
}

type Store struct {
	config     Config
	httpClient *http.Client
}

func New(config Config) *Store {
	if config.Distance == "" {
		config.Distance = "Cosine"
	}

	return &Store{
		config:     config,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// NewWithHTTPClient is for tests that point the store at a stub server.
func NewWithHTTPClient(config Config, client *http.Client) *Store {
	store := New(config)
	store.httpClient = client
	return store
}

// Initialize creates the collection when missing and verifies the vector
// schema when present, returning a SchemaError on any mismatch. The meta
// collection is provisioned alongside.
func (store *Store) Initialize(ctx context.Context) error {
	if err := store.ensureCollection(ctx, store.config.Collection, store.config.Dimension); err != nil {
		return err
	}

	if err := store.verifySchema(ctx); err != nil {
		return err
	}

	return store.ensureCollection(ctx, store.metaCollection(), 1)
}

func (store *Store) ensureCollection(ctx context.Context, name string, dimension int) error {
	status, err := store.do(ctx, http.MethodGet, "/collections/"+name, nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusOK {
		return nil
	}
	if status != http.StatusNotFound {
		return fmt.Errorf("qdrant: collection check status %d", status)
	}

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": store.config.Distance,
		},
	}

	status, err = store.do(ctx, http.MethodPut, "/collections/"+name, body, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("qdrant: collection create status %d", status)
	}

	return nil
}

func (store *Store) verifySchema(ctx context.Context) error {
	var out struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}

	status, err := store.do(ctx, http.MethodGet, "/collections/"+store.config.Collection, nil, &out)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("qdrant: collection describe status %d", status)
	}

	vectors := out.Result.Config.Params.Vectors

	if vectors.Size != store.config.Dimension {
		return &errors.SchemaError{
			Collection: store.config.Collection,
			Property:   "vectors.size",
			Want:       store.config.Dimension,
			Got:        vectors.Size,
		}
	}

	if vectors.Distance != store.config.Distance {
		return &errors.SchemaError{
			Collection: store.config.Collection,
			Property:   "vectors.distance",
			Want:       store.config.Distance,
			Got:        vectors.Distance,
		}
	}

	return nil
}

func (store *Store) Insert(ctx context.Context, records []memory.Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]map[string]any, 0, len(records))
	for _, record := range records {
		points = append(points, map[string]any{
			"id":      record.ID,
			"vector":  record.Vector,
			"payload": record.Payload,
		})
	}

	status, err := store.do(ctx, http.MethodPut,
		store.pointsPath("")+"?wait=true",
		map[string]any{"points": points},
		nil,
	)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("qdrant: upsert status %d", status)
	}

	return nil
}

func (store *Store) Search(ctx context.Context, vector []float32, limit int, filters map[string]string) ([]memory.Record, error) {
	body := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if filter := buildFilter(filters); filter != nil {
		body["filter"] = filter
	}

	var out struct {
		Result []struct {
			ID      string         `json:"id"`
			Score   float32        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}

	status, err := store.do(ctx, http.MethodPost, store.pointsPath("/search"), body, &out)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, fmt.Errorf("qdrant: search status %d", status)
	}

	records := make([]memory.Record, 0, len(out.Result))
	for _, hit := range out.Result {
		records = append(records, memory.Record{
			ID:      hit.ID,
			Score:   hit.Score,
			Payload: hit.Payload,
		})
	}

	return records, nil
}

func (store *Store) Get(ctx context.Context, id string) (memory.Record, error) {
	var out struct {
		Result struct {
			ID      string         `json:"id"`
			Vector  []float32      `json:"vector"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}

	status, err := store.do(ctx, http.MethodGet, store.pointsPath("/"+id), nil, &out)
	if err != nil {
		return memory.Record{}, err
	}
	if status == http.StatusNotFound {
		return memory.Record{}, errors.ErrNotFound
	}
	if status >= 300 {
		return memory.Record{}, fmt.Errorf("qdrant: get status %d", status)
	}

	return memory.Record{
		ID:      out.Result.ID,
		Vector:  out.Result.Vector,
		Payload: out.Result.Payload,
	}, nil
}

// Update replaces the vector when one is given and merges the payload keys
// into the stored point. The update timestamp is always refreshed.
func (store *Store) Update(ctx context.Context, id string, vector []float32, payload map[string]any) error {
	if vector != nil {
		status, err := store.do(ctx, http.MethodPut,
			store.pointsPath("/vectors")+"?wait=true",
			map[string]any{"points": []map[string]any{{"id": id, "vector": vector}}},
			nil,
		)
		if err != nil {
			return err
		}
		if status >= 300 {
			return fmt.Errorf("qdrant: vector update status %d", status)
		}
	}

	merged := make(map[string]any, len(payload)+1)
	for key, value := range payload {
		merged[key] = value
	}
	if _, ok := merged["updated_at"]; !ok {
		merged["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	}

	status, err := store.do(ctx, http.MethodPost,
		store.pointsPath("/payload")+"?wait=true",
		map[string]any{"payload": merged, "points": []string{id}},
		nil,
	)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("qdrant: payload update status %d", status)
	}

	return nil
}

func (store *Store) Delete(ctx context.Context, id string) error {
	status, err := store.do(ctx, http.MethodDelete, store.pointsPath("/"+id), nil, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return errors.ErrNotFound
	}
	if status >= 300 {
		return fmt.Errorf("qdrant: delete status %d", status)
	}

	return nil
}

// List scrolls the filtered points and reports the exact total alongside,
// newest first. The scroll follows next_page_offset until the collection is
// exhausted; the created_at ordering is applied client-side, so every page
// has to be fetched before the limit can be taken.
func (store *Store) List(ctx context.Context, filters map[string]string, limit int) ([]memory.Record, int, error) {
	var records []memory.Record
	var offset any

	for {
		body := map[string]any{
			"limit":        1000,
			"with_payload": true,
		}
		if filter := buildFilter(filters); filter != nil {
			body["filter"] = filter
		}
		if offset != nil {
			body["offset"] = offset
		}

		var out struct {
			Result struct {
				Points []struct {
					ID      string         `json:"id"`
					Payload map[string]any `json:"payload"`
				} `json:"points"`
				NextPageOffset any `json:"next_page_offset"`
			} `json:"result"`
		}

		status, err := store.do(ctx, http.MethodPost, store.pointsPath("/scroll"), body, &out)
		if err != nil {
			return nil, 0, err
		}
		if status >= 300 {
			return nil, 0, fmt.Errorf("qdrant: scroll status %d", status)
		}

		for _, point := range out.Result.Points {
			records = append(records, memory.Record{ID: point.ID, Payload: point.Payload})
		}

		offset = out.Result.NextPageOffset
		if offset == nil || len(out.Result.Points) == 0 {
			break
		}
	}

	sort.SliceStable(records, func(a, b int) bool {
		return createdAt(records[a].Payload).After(createdAt(records[b].Payload))
	})

	total, err := store.count(ctx, filters)
	if err != nil {
		return nil, 0, err
	}

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}

	return records, total, nil
}

func (store *Store) count(ctx context.Context, filters map[string]string) (int, error) {
	body := map[string]any{"exact": true}
	if filter := buildFilter(filters); filter != nil {
		body["filter"] = filter
	}

	var out struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}

	status, err := store.do(ctx, http.MethodPost, store.pointsPath("/count"), body, &out)
	if err != nil {
		return 0, err
	}
	if status >= 300 {
		return 0, fmt.Errorf("qdrant: count status %d", status)
	}

	return out.Result.Count, nil
}

// Reset drops and recreates the collection; the meta collection survives.
func (store *Store) Reset(ctx context.Context) error {
	status, err := store.do(ctx, http.MethodDelete, "/collections/"+store.config.Collection, nil, nil)
	if err != nil {
		return err
	}
	if status >= 300 && status != http.StatusNotFound {
		return fmt.Errorf("qdrant: collection delete status %d", status)
	}

	return store.ensureCollection(ctx, store.config.Collection, store.config.Dimension)
}

func (store *Store) OwnerID(ctx context.Context) (string, error) {
	var out struct {
		Result struct {
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}

	path := "/collections/" + store.metaCollection() + "/points/" + ownerPointID

	status, err := store.do(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return "", err
	}
	if status == http.StatusNotFound {
		return "", errors.ErrNotFound
	}
	if status >= 300 {
		return "", fmt.Errorf("qdrant: owner get status %d", status)
	}

	owner, _ := out.Result.Payload["owner_id"].(string)
	if owner == "" {
		return "", errors.ErrNotFound
	}

	return owner, nil
}

func (store *Store) SetOwnerID(ctx context.Context, id string) error {
	body := map[string]any{
		"points": []map[string]any{{
			"id":      ownerPointID,
			"vector":  []float32{0},
			"payload": map[string]any{"owner_id": id},
		}},
	}

	path := "/collections/" + store.metaCollection() + "/points?wait=true"

	status, err := store.do(ctx, http.MethodPut, path, body, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("qdrant: owner set status %d", status)
	}

	return nil
}

func (store *Store) Ping(ctx context.Context) error {
	status, err := store.do(ctx, http.MethodGet, "/collections/"+store.config.Collection, nil, nil)
	if err != nil {
		return err
	}
	if status >= 300 {
		return fmt.Errorf("qdrant: ping status %d", status)
	}

	return nil
}

func (store *Store) metaCollection() string {
	return store.config.Collection + "_meta"
}

func (store *Store) pointsPath(suffix string) string {
	return "/collections/" + store.config.Collection + "/points" + suffix
}

// do issues one request and decodes the JSON body into out when given.
// Status handling stays with the caller; only transport failures error here.
func (store *Store) do(ctx context.Context, method, path string, body, out any) (int, error) {
	var reader *bytes.Reader

	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, store.config.Endpoint+path, reader)
	if err != nil {
		return 0, err
	}

	req.Header.Set("Content-Type", "application/json")
	if store.config.APIKey != "" {
		req.Header.Set("api-key", store.config.APIKey)
	}

	resp, err := store.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}

	return resp.StatusCode, nil
}

func createdAt(payload map[string]any) time.Time {
	raw, _ := payload["created_at"].(string)
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
