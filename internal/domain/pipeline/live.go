package pipeline

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LiveOptions configures a live view session.
type LiveOptions struct {
	Stage    Stage
	PageSize int
	Debounce time.Duration
}

// liveMessage is one inbound client frame.
type liveMessage struct {
	Action string `json:"action"`
	Text   string `json:"text,omitempty"`
	Stage  string `json:"stage,omitempty"`
	Page   int    `json:"page,omitempty"`
}

// LiveFrame is one outbound frame.
type LiveFrame struct {
	Type    string         `json:"type"`
	State   *ViewState     `json:"state,omitempty"`
	Total   int            `json:"total"`
	Columns []Column       `json:"columns,omitempty"`
	Rows    []ProjectedRow `json:"rows,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// LiveSession runs one client's pipeline view on a single event loop
// goroutine. Client actions, debounce timers and fetch results are all
// posted to the loop, so the view state is never touched concurrently.
type LiveSession struct {
	svc    *Service
	logger zerolog.Logger
	send   func([]byte) bool

	ctx    context.Context
	cancel context.CancelFunc

	events  chan func()
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	fetches sync.WaitGroup

	// Loop-owned.
	view   *ViewController
	reqSeq uint64
}

// NewLiveSession starts a session and immediately requests the first page.
func NewLiveSession(ctx context.Context, svc *Service, opts LiveOptions, send func([]byte) bool, logger zerolog.Logger) *LiveSession {
	ctx, cancel := context.WithCancel(ctx)
	s := &LiveSession{
		svc:     svc,
		logger:  logger,
		send:    send,
		ctx:     ctx,
		cancel:  cancel,
		events:  make(chan func(), 64),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	s.view = NewViewController(ViewOptions{
		Stage:     opts.Stage,
		PageSize:  opts.PageSize,
		Debounce:  opts.Debounce,
		Scheduler: RealScheduler{Post: s.post},
		Location:  svc.Location(),
	}, s.request)

	go s.loop()
	s.post(s.view.Refresh)
	return s
}

// Handle decodes a client frame and applies it on the loop.
func (s *LiveSession) Handle(raw []byte) {
	var msg liveMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.post(func() { s.emitError("malformed message") })
		return
	}
	s.post(func() { s.apply(msg) })
}

// Close stops the loop and waits for in-flight fetches to drain.
func (s *LiveSession) Close() {
	s.once.Do(func() {
		s.cancel()
		close(s.done)
		<-s.stopped
		s.fetches.Wait()
	})
}

func (s *LiveSession) loop() {
	defer close(s.stopped)
	for {
		select {
		case f := <-s.events:
			f()
		case <-s.done:
			s.view.Close()
			return
		}
	}
}

// post queues f for the loop; it is dropped once the session is closed.
func (s *LiveSession) post(f func()) {
	select {
	case s.events <- f:
	case <-s.done:
	}
}

func (s *LiveSession) apply(msg liveMessage) {
	switch msg.Action {
	case "type":
		s.view.Type(msg.Text)
	case "commit":
		s.view.CommitSearch(msg.Text)
	case "clear":
		s.view.ClearSearch()
	case "stage":
		stage, err := ParseStage(msg.Stage)
		if err != nil {
			s.emitError(err.Error())
			return
		}
		s.view.SetStage(stage)
	case "page":
		s.view.SetPage(msg.Page)
	case "refresh":
		s.view.Refresh()
	default:
		s.emitError("unknown action: " + msg.Action)
	}
}

// request runs on the loop. The fetch itself runs off-loop; only the result
// of the most recent request is rendered.
func (s *LiveSession) request(q Query) {
	s.reqSeq++
	seq := s.reqSeq

	s.fetches.Add(1)
	go func() {
		defer s.fetches.Done()
		page, err := s.svc.Fetch(s.ctx, q)
		s.post(func() {
			if seq != s.reqSeq {
				return
			}
			if err != nil {
				s.emitError("could not load records")
				page = nil
			}
			s.render(page)
		})
	}()
}

func (s *LiveSession) render(page *Page) {
	state := s.view.State()
	table := s.view.Present(page, s.svc.Now())
	frame := LiveFrame{
		Type:    "snapshot",
		State:   &state,
		Columns: table.Columns,
		Rows:    table.Rows,
	}
	if page != nil {
		frame.Total = page.Total
	}
	s.emit(frame)
}

func (s *LiveSession) emitError(msg string) {
	s.emit(LiveFrame{Type: "error", Error: msg})
}

func (s *LiveSession) emit(frame LiveFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error().Err(err).Msg("marshal live frame")
		return
	}
	if !s.send(data) {
		s.logger.Warn().Str("type", frame.Type).Msg("live frame dropped")
	}
}
