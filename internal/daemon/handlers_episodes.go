package daemon

import (
	"fmt"
	"net/http"
	"strings"

	"podscribe/internal/api"
	"podscribe/internal/episodes"
	"podscribe/internal/events"
	"podscribe/internal/logging"
	"podscribe/internal/services"
)

func (s *apiServer) lookupEpisode(r *http.Request, op string) (*episodes.Episode, error) {
	id, err := pathID(r)
	if err != nil {
		return nil, err
	}
	episode, err := s.daemon.comp.Episodes.GetByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if episode == nil {
		return nil, services.Wrap(services.ErrNotFound, "api", op, fmt.Sprintf("episode %d not found", id), nil)
	}
	return episode, nil
}

func (s *apiServer) handleGetEpisode(w http.ResponseWriter, r *http.Request) {
	episode, err := s.lookupEpisode(r, "get episode")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	includeSegments := false
	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("segments"))) {
	case "1", "true", "yes":
		includeSegments = true
	}
	s.daemon.comp.Emitter.Emit(events.Event{
		Type:      events.EpisodeRead,
		EpisodeID: episode.ID,
		SourceURL: episode.SourceURL,
	})
	s.writeJSON(w, http.StatusOK, api.EpisodeResponse{Episode: api.FromEpisode(episode, includeSegments)})
}

// handleProcessEpisode queues a pipeline run for an existing episode. The
// run goes through the task queue like any submission.
func (s *apiServer) handleProcessEpisode(w http.ResponseWriter, r *http.Request) {
	episode, err := s.lookupEpisode(r, "process episode")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp, err := s.enqueue(r, episode.SourceURL, "api:process")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, resp)
}

func (s *apiServer) handleReindexEpisode(w http.ResponseWriter, r *http.Request) {
	reindexer := s.daemon.comp.Reindexer
	if reindexer == nil {
		s.writeError(w, r, services.Wrap(services.ErrConfiguration, "api", "reindex episode", "index is not configured", nil))
		return
	}
	episode, err := s.lookupEpisode(r, "reindex episode")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx := services.WithEpisodeID(r.Context(), episode.ID)
	chunks, err := reindexer.Reindex(ctx, episode.ID, nil)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	logging.WithContext(ctx, s.logger).Info("episode reindexed", logging.Int("chunks", chunks))
	s.writeJSON(w, http.StatusOK, api.ReindexResponse{EpisodeID: episode.ID, Chunks: chunks})
}

func (s *apiServer) handleAsk(w http.ResponseWriter, r *http.Request) {
	answerer := s.daemon.comp.Answerer
	if answerer == nil {
		s.writeError(w, r, services.Wrap(services.ErrConfiguration, "api", "ask", "question answering is not configured", nil))
		return
	}
	var req api.AskRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	answer, err := answerer.Answer(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, answer)
}
