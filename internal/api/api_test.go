package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/victornm/reflex/internal/api"
	"github.com/victornm/reflex/internal/event"
	"github.com/victornm/reflex/internal/leaderboard"
	"github.com/victornm/reflex/internal/score"
	"github.com/victornm/reflex/internal/session"
)

func TestHTTP(t *testing.T) {
	type (
		request struct {
			method string
			path   string
			body   any
		}

		response struct {
			code int
			body []byte
		}
	)

	tests := map[string]struct {
		arrange func(t *testing.T, e *env) request
		assert  func(t *testing.T, resp response)
	}{
		"create session should return a fresh round": {
			arrange: func(t *testing.T, e *env) request {
				return request{method: http.MethodPost, path: "/v1/sessions", body: map[string]int{"width": 390, "height": 844}}
			},

			assert: func(t *testing.T, resp response) {
				require.Equal(t, http.StatusCreated, resp.code)

				var s api.Session
				require.NoError(t, json.Unmarshal(resp.body, &s))
				assert.NotEmpty(t, s.SessionID)
				assert.Equal(t, 0, s.Score)
				assert.Equal(t, 30, s.TimeLeft)
				assert.False(t, s.Over)
				require.NotNil(t, s.Target)
				assert.Less(t, s.Target.X, 290)
				assert.Less(t, s.Target.Y, 744)
				assert.Equal(t, 100, s.Diameter)
				assert.Empty(t, s.Leaderboard.Entries)
			},
		},

		"create session with a missing viewport should be rejected": {
			arrange: func(t *testing.T, e *env) request {
				return request{method: http.MethodPost, path: "/v1/sessions", body: map[string]int{"width": 390}}
			},

			assert: func(t *testing.T, resp response) {
				require.Equal(t, http.StatusBadRequest, resp.code)
			},
		},

		"create session with a viewport smaller than the target should be rejected": {
			arrange: func(t *testing.T, e *env) request {
				return request{method: http.MethodPost, path: "/v1/sessions", body: map[string]int{"width": 80, "height": 80}}
			},

			assert: func(t *testing.T, resp response) {
				require.Equal(t, http.StatusBadRequest, resp.code)
			},
		},

		"tap should increase the score": {
			arrange: func(t *testing.T, e *env) request {
				id := e.createSession(t)
				return request{method: http.MethodPost, path: "/v1/sessions/" + id + "/tap"}
			},

			assert: func(t *testing.T, resp response) {
				require.Equal(t, http.StatusOK, resp.code)

				var s api.Session
				require.NoError(t, json.Unmarshal(resp.body, &s))
				assert.Equal(t, 1, s.Score)
			},
		},

		"restart while playing should conflict": {
			arrange: func(t *testing.T, e *env) request {
				id := e.createSession(t)
				return request{method: http.MethodPost, path: "/v1/sessions/" + id + "/restart"}
			},

			assert: func(t *testing.T, resp response) {
				require.Equal(t, http.StatusConflict, resp.code)

				var body struct {
					Code    int    `json:"code"`
					Message string `json:"message"`
				}
				require.NoError(t, json.Unmarshal(resp.body, &body))
				assert.Equal(t, int(codes.FailedPrecondition), body.Code)
				assert.Contains(t, body.Message, "still running")
			},
		},

		"unknown session should not be found": {
			arrange: func(t *testing.T, e *env) request {
				return request{method: http.MethodGet, path: "/v1/sessions/unknown"}
			},

			assert: func(t *testing.T, resp response) {
				require.Equal(t, http.StatusNotFound, resp.code)
			},
		},

		"ended session should be gone": {
			arrange: func(t *testing.T, e *env) request {
				id := e.createSession(t)
				rec := e.do(t, http.MethodDelete, "/v1/sessions/"+id, nil)
				require.Equal(t, http.StatusNoContent, rec.Code)
				return request{method: http.MethodPost, path: "/v1/sessions/" + id + "/tap"}
			},

			assert: func(t *testing.T, resp response) {
				require.Equal(t, http.StatusNotFound, resp.code)
			},
		},

		"leaderboard should list the stored scores": {
			arrange: func(t *testing.T, e *env) request {
				for _, sc := range []int{4, 9, 1, 7, 3, 8} {
					_, err := e.scores.SaveScore(context.Background(), sc)
					require.NoError(t, err)
				}
				return request{method: http.MethodGet, path: "/v1/leaderboard"}
			},

			assert: func(t *testing.T, resp response) {
				require.Equal(t, http.StatusOK, resp.code)

				var l api.Leaderboard
				require.NoError(t, json.Unmarshal(resp.body, &l))
				got := make([]int, 0, len(l.Entries))
				for _, e := range l.Entries {
					got = append(got, e.Score)
					assert.False(t, e.Timestamp.IsZero())
				}
				assert.Equal(t, []int{9, 8, 7, 4, 3}, got)
			},
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			e := makeEnv(t)
			req := tt.arrange(t, e)

			rec := e.do(t, req.method, req.path, req.body)
			tt.assert(t, response{code: rec.Code, body: rec.Body.Bytes()})
		})
	}
}

func TestPubsub_SessionUpdated(t *testing.T) {
	e := makeEnv(t)

	sub := e.redis.Subscribe(context.Background(), "test:leaderboard")
	t.Cleanup(func() { sub.Close() })
	_, err := sub.Receive(context.Background())
	require.NoError(t, err)

	id := e.createSession(t)

	ss := e.redis.Subscribe(context.Background(), api.SessionChannel("test", id))
	t.Cleanup(func() { ss.Close() })
	_, err = ss.Receive(context.Background())
	require.NoError(t, err)

	rec := e.do(t, http.MethodPost, "/v1/sessions/"+id+"/tap", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var n struct {
		Event string      `json:"event"`
		Data  api.Session `json:"data"`
	}
	// The update of the session creation may be delivered first.
	for n.Data.Score == 0 {
		msg, err := ss.ReceiveMessage(ctx)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
		assert.Equal(t, "session.updated", n.Event)
		assert.Equal(t, id, n.Data.SessionID)
	}
	assert.Equal(t, 1, n.Data.Score)

	rec = e.do(t, http.MethodGet, "/v1/leaderboard", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, `"event":"leaderboard.updated"`)
}

func TestGRPC(t *testing.T) {
	e := makeEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := e.dialGRPC(t)

	in, err := structpb.NewStruct(map[string]any{"width": 390, "height": 844})
	require.NoError(t, err)

	created := new(structpb.Struct)
	require.NoError(t, conn.Invoke(ctx, "/reflex.v1.GameService/CreateSession", in, created))
	id := created.GetFields()["session_id"].GetStringValue()
	require.NotEmpty(t, id)
	assert.Equal(t, float64(30), created.GetFields()["time_left"].GetNumberValue())

	tapped := new(structpb.Struct)
	require.NoError(t, conn.Invoke(ctx, "/reflex.v1.GameService/Tap", wrapperspb.String(id), tapped))
	assert.Equal(t, float64(1), tapped.GetFields()["score"].GetNumberValue())

	err = conn.Invoke(ctx, "/reflex.v1.GameService/Restart", wrapperspb.String(id), new(structpb.Struct))
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	require.NoError(t, conn.Invoke(ctx, "/reflex.v1.GameService/EndSession", wrapperspb.String(id), new(emptypb.Empty)))

	err = conn.Invoke(ctx, "/reflex.v1.GameService/GetSession", wrapperspb.String(id), new(structpb.Struct))
	assert.Equal(t, codes.NotFound, status.Code(err))

	err = conn.Invoke(ctx, "/reflex.v1.GameService/CreateSession", &structpb.Struct{}, new(structpb.Struct))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	l := new(structpb.Struct)
	require.NoError(t, conn.Invoke(ctx, "/reflex.v1.GameService/GetLeaderboard", &emptypb.Empty{}, l))
	assert.Empty(t, l.GetFields()["entries"].GetListValue().GetValues())
}

type env struct {
	engine *gin.Engine
	grpc   *grpc.Server
	redis  redis.UniversalClient
	scores *score.Service
}

func makeEnv(t *testing.T) *env {
	gin.SetMode(gin.TestMode)

	rs := miniredis.RunT(t)
	rc := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs: []string{rs.Addr()},
	})
	t.Cleanup(func() { rc.Close() })

	eb := event.NewBus(event.Config{})
	t.Cleanup(eb.Stop)

	scores := score.NewService(score.Config{
		EventBus: eb,
		Store:    score.NewRedisStore(rc, "test"),
	})
	lb := leaderboard.NewService(leaderboard.Config{
		EventBus: eb,
		Score:    scores,
	})

	// Long intervals keep rounds still while the API is exercised.
	ss := session.NewService(session.Config{
		EventBus:          eb,
		Score:             scores,
		Leaderboard:       lb,
		RelocateInterval:  time.Hour,
		CountdownInterval: time.Hour,
		IdleTimeout:       -1,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ss.Stop(ctx)
	})

	e := &env{
		engine: gin.New(),
		grpc:   grpc.NewServer(),
		redis:  rc,
		scores: scores,
	}

	api.New(api.Config{
		GRPC:         e.grpc,
		HTTP:         e.engine,
		EventBus:     eb,
		Session:      ss,
		Leaderboard:  lb,
		Redis:        rc,
		PubsubPrefix: "test",
	})

	return e
}

func (e *env) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.engine.ServeHTTP(rec, req)

	return rec
}

func (e *env) createSession(t *testing.T) string {
	t.Helper()

	rec := e.do(t, http.MethodPost, "/v1/sessions", map[string]int{"width": 390, "height": 844})
	require.Equal(t, http.StatusCreated, rec.Code)

	var s api.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &s))
	return s.SessionID
}

func (e *env) dialGRPC(t *testing.T) *grpc.ClientConn {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	go func() { _ = e.grpc.Serve(lis) }()
	t.Cleanup(e.grpc.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}
