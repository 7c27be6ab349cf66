package qdrant

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/engramlabs/engram/pkg/errors"
	"github.com/engramlabs/engram/pkg/memory"
)

func testStore(url string) *Store {
	return New(Config{
		Endpoint:   url,
		Collection: "mem",
		Dimension:  4,
	})
}

func TestStoreInitialize(t *testing.T) {
	Convey("Given a server without the collection", t, func() {
		created := map[string]bool{}

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name := ""
			fmt.Sscanf(r.URL.Path, "/collections/%s", &name)

			switch r.Method {
			case http.MethodGet:
				if !created[name] {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				fmt.Fprint(w, `{"result":{"config":{"params":{"vectors":{"size":4,"distance":"Cosine"}}}}}`)
			case http.MethodPut:
				created[name] = true
				fmt.Fprint(w, `{"result":true}`)
			}
		}))
		defer ts.Close()

		store := testStore(ts.URL)
		err := store.Initialize(context.Background())

		Convey("Then both collections are created", func() {
			So(err, ShouldBeNil)
			So(created["mem"], ShouldBeTrue)
			So(created["mem_meta"], ShouldBeTrue)
		})
	})

	Convey("Given a collection with the wrong vector size", t, func() {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"result":{"config":{"params":{"vectors":{"size":768,"distance":"Cosine"}}}}}`)
		}))
		defer ts.Close()

		store := testStore(ts.URL)
		err := store.Initialize(context.Background())

		Convey("Then a schema error names the mismatch", func() {
			So(err, ShouldNotBeNil)
			So(err.Error(), ShouldContainSubstring, "vectors.size")
		})
	})
}

func TestStoreSearch(t *testing.T) {
	Convey("Given a server that echoes the search request", t, func() {
		var received map[string]any

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&received)
			fmt.Fprint(w, `{"result":[{"id":"1","score":0.9,"payload":{"data":"a"}},{"id":"2","score":0.4,"payload":{"data":"b"}}]}`)
		}))
		defer ts.Close()

		store := testStore(ts.URL)
		records, err := store.Search(context.Background(), []float32{1, 0, 0, 0}, 5, map[string]string{"user_id": "alice"})

		Convey("Then the hits are returned in order", func() {
			So(err, ShouldBeNil)
			So(len(records), ShouldEqual, 2)
			So(records[0].ID, ShouldEqual, "1")
			So(records[0].Score, ShouldAlmostEqual, 0.9, 1e-6)
			So(records[0].Payload["data"], ShouldEqual, "a")
		})

		Convey("And the scope filter travels with the request", func() {
			So(received["filter"], ShouldNotBeNil)
			filter := received["filter"].(map[string]any)
			must := filter["must"].([]any)
			So(len(must), ShouldEqual, 1)
			clause := must[0].(map[string]any)
			So(clause["key"], ShouldEqual, "user_id")
		})
	})
}

func TestStoreList(t *testing.T) {
	Convey("Given a collection that spans multiple scroll pages", t, func() {
		scrolls := 0

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/collections/mem/points/scroll":
				scrolls++

				var body map[string]any
				_ = json.NewDecoder(r.Body).Decode(&body)

				if body["offset"] == nil {
					fmt.Fprint(w, `{"result":{"points":[{"id":"1","payload":{}},{"id":"2","payload":{}}],"next_page_offset":"3"}}`)
					return
				}
				fmt.Fprint(w, `{"result":{"points":[{"id":"3","payload":{}}],"next_page_offset":null}}`)
			case "/collections/mem/points/count":
				fmt.Fprint(w, `{"result":{"count":3}}`)
			}
		}))
		defer ts.Close()

		store := testStore(ts.URL)
		records, total, err := store.List(context.Background(), nil, 0)

		Convey("Then every page is fetched", func() {
			So(err, ShouldBeNil)
			So(scrolls, ShouldEqual, 2)
			So(len(records), ShouldEqual, 3)
			So(total, ShouldEqual, 3)
		})
	})
}

func TestStoreGet(t *testing.T) {
	Convey("Given a point that exists", t, func() {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"result":{"id":"123","vector":[1,0],"payload":{"data":"hello"}}}`)
		}))
		defer ts.Close()

		store := testStore(ts.URL)
		record, err := store.Get(context.Background(), "123")

		Convey("Then the record is parsed", func() {
			So(err, ShouldBeNil)
			So(record.ID, ShouldEqual, "123")
			So(record.Payload["data"], ShouldEqual, "hello")
		})
	})

	Convey("Given a point that does not exist", t, func() {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer ts.Close()

		store := testStore(ts.URL)
		_, err := store.Get(context.Background(), "missing")

		Convey("Then the sentinel not-found error is returned", func() {
			So(errors.IsNotFound(err), ShouldBeTrue)
		})
	})
}

func TestStoreInsert(t *testing.T) {
	Convey("Given an empty batch", t, func() {
		calls := 0

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
		}))
		defer ts.Close()

		store := testStore(ts.URL)
		err := store.Insert(context.Background(), nil)

		Convey("Then no request is made", func() {
			So(err, ShouldBeNil)
			So(calls, ShouldEqual, 0)
		})
	})

	Convey("Given a batch of records", t, func() {
		var received map[string]any

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewDecoder(r.Body).Decode(&received)
			fmt.Fprint(w, `{"result":true}`)
		}))
		defer ts.Close()

		store := testStore(ts.URL)
		err := store.Insert(context.Background(), []memory.Record{{
			ID:      "r1",
			Vector:  []float32{1, 0, 0, 0},
			Payload: map[string]any{"data": "hello"},
		}})

		Convey("Then the point is upserted with its payload", func() {
			So(err, ShouldBeNil)
			points := received["points"].([]any)
			So(len(points), ShouldEqual, 1)
			point := points[0].(map[string]any)
			So(point["id"], ShouldEqual, "r1")
		})
	})
}

func TestStoreUpdate(t *testing.T) {
	Convey("Given an update with a new vector and payload", t, func() {
		paths := []string{}
		var payloadBody map[string]any

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			paths = append(paths, r.URL.Path)
			if r.URL.Path == "/collections/mem/points/payload" {
				_ = json.NewDecoder(r.Body).Decode(&payloadBody)
			}
			fmt.Fprint(w, `{"result":true}`)
		}))
		defer ts.Close()

		store := testStore(ts.URL)
		err := store.Update(context.Background(), "r1", []float32{0, 1, 0, 0}, map[string]any{"data": "new"})

		Convey("Then both the vector and the payload endpoints are hit", func() {
			So(err, ShouldBeNil)
			So(paths, ShouldContain, "/collections/mem/points/vectors")
			So(paths, ShouldContain, "/collections/mem/points/payload")
		})

		Convey("And the update timestamp is refreshed", func() {
			payload := payloadBody["payload"].(map[string]any)
			So(payload["data"], ShouldEqual, "new")
			So(payload["updated_at"], ShouldNotBeNil)
		})
	})
}

func TestStoreOwnerID(t *testing.T) {
	Convey("Given a meta collection with an owner point", t, func() {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"result":{"id":"`+ownerPointID+`","payload":{"owner_id":"alice"}}}`)
		}))
		defer ts.Close()

		store := testStore(ts.URL)
		owner, err := store.OwnerID(context.Background())

		Convey("Then the owner is returned", func() {
			So(err, ShouldBeNil)
			So(owner, ShouldEqual, "alice")
		})
	})

	Convey("Given no owner point", t, func() {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer ts.Close()

		store := testStore(ts.URL)
		_, err := store.OwnerID(context.Background())

		Convey("Then the sentinel not-found error is returned", func() {
			So(errors.IsNotFound(err), ShouldBeTrue)
		})
	})
}
