package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"pinboard-api/domain"
	"pinboard-api/email"
	"pinboard-api/ics"
)

// Config carries the cross-cutting pieces handlers share: the board footprint
// and an injected clock/time zone so deadline bucketing never reads ambient
// time.
type Config struct {
	Layout   domain.Layout
	Location *time.Location
	Now      func() time.Time
}

func (cfg Config) today() time.Time {
	return cfg.Now().In(cfg.Location)
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, store Storage, auth Authenticator, deduper Deduper, events *redis.Client, logger *log.Logger, cfg Config) {
	if cfg.Layout == (domain.Layout{}) {
		cfg.Layout = domain.DefaultLayout()
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	e.GET("/api/notes", getNotes(store, auth, logger))
	e.POST("/api/notes", postNote(store, auth, deduper, cfg))
	e.PATCH("/api/notes/:id", patchNote(store, auth))
	e.DELETE("/api/notes/:id", deleteNote(store, auth))
	e.POST("/api/notes/:id/position", postNotePosition(store, auth, cfg))
	e.POST("/api/notes/:id/front", postNoteFront(store, auth))
	e.POST("/api/arrange", postArrange(store, auth, cfg))
	e.GET("/api/summary", getSummary(store, auth, cfg))
	e.GET("/api/week", getWeek(store, auth, cfg))
	e.GET("/api/calendar/:year/:month", getCalendar(store, auth, cfg))
	e.GET("/api/notes/:id/calendar.ics", getNoteICS(store, auth, cfg))
	e.POST("/api/import/email", postImportEmail(store, auth, deduper, cfg))
	e.GET("/api/settings", getSettings(store, auth))
	e.PUT("/api/settings", putSettings(store, auth))
	e.GET("/healthz", healthz())

	initEventSender(store, events, logger)
}

func authedUser(c echo.Context, auth Authenticator) (string, error) {
	return auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
}

func getNotes(store Storage, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		ctx := c.Request().Context()
		metrics, spanCtx := newNoteRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()

		authStart := time.Now()
		userID, authErr := authedUser(c, auth)
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			err = c.String(http.StatusUnauthorized, authErr.Error())
			return err
		}

		statusFilter := strings.TrimSpace(c.QueryParam("status"))
		typeFilter := strings.TrimSpace(c.QueryParam("type"))
		if statusFilter != "" && !domain.Status(statusFilter).Valid() {
			metrics.SetErrorStage("invalid_status")
			err = c.String(http.StatusBadRequest, "invalid status filter")
			return err
		}
		metrics.SetFilterApplied(statusFilter != "" || typeFilter != "")

		fetchStart := time.Now()
		notes, fetchErr := store.FetchNotes(ctx, userID)
		metrics.ObserveFetch(time.Since(fetchStart))
		if fetchErr != nil {
			metrics.SetErrorStage("storage")
			c.Logger().Error(fetchErr)
			err = c.String(http.StatusInternalServerError, fetchErr.Error())
			return err
		}

		settings, settingsErr := store.FetchSettings(ctx, userID)
		if settingsErr != nil {
			// Listing still works without settings; archived notes stay hidden.
			c.Logger().Warnf("fetch settings: %v", settingsErr)
			settings = domain.Settings{}
		}

		notes = filterNotes(notes, statusFilter, typeFilter, settings.ShowArchived)
		domain.SortByCustomer(notes)
		metrics.SetNotesReturned(len(notes))

		encodeStart := time.Now()
		err = c.JSON(http.StatusOK, notesResponse{Notes: notes})
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

// filterNotes applies the optional status/type filters. Archived notes are
// hidden unless explicitly requested or enabled in settings.
func filterNotes(notes []domain.Note, status, noteType string, showArchived bool) []domain.Note {
	out := make([]domain.Note, 0, len(notes))
	for _, n := range notes {
		if status != "" {
			if n.Status != domain.Status(status) {
				continue
			}
		} else if n.Status == domain.StatusArchived && !showArchived {
			continue
		}
		if noteType != "" && n.NoteType != domain.NoteType(noteType) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func postNote(store Storage, auth Authenticator, deduper Deduper, cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authedUser(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		lr := io.LimitReader(c.Request().Body, noteBodyMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var req createNoteRequest
		if err := dec.Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if strings.TrimSpace(req.CustomerName) == "" {
			return c.String(http.StatusBadRequest, "customerName is required")
		}
		status := domain.StatusNew
		if req.Status != "" {
			status = domain.Status(req.Status)
			if !status.Valid() {
				return c.String(http.StatusBadRequest, "invalid status")
			}
		}
		if !validDeadlineType(req.DeadlineType) {
			return c.String(http.StatusBadRequest, "invalid deadlineType")
		}

		release, err := claimIdempotencyKey(c, deduper, userID)
		if err != nil {
			return err
		}

		existing, err := store.FetchNotes(ctx, userID)
		if err != nil {
			release(ctx)
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		x, y, z := cfg.Layout.InitialPlacement(len(existing), domain.MaxZIndex(existing))
		note := domain.Note{
			ID:           uuid.NewString(),
			CustomerName: req.CustomerName,
			Subject:      req.Subject,
			Remarks:      req.Remarks,
			Status:       status,
			NoteType:     domain.NoteType(req.NoteType),
			PositionX:    x,
			PositionY:    y,
			ZIndex:       z,
			Deadline:     req.Deadline,
			DeadlineType: domain.DeadlineType(req.DeadlineType),
		}
		if err := store.InsertNote(ctx, userID, note); err != nil {
			release(ctx)
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to create note")
		}

		publishNoteEvent(c, userID, domain.EventNoteCreated, note.ID, note)
		return c.JSON(http.StatusCreated, note)
	}
}

func patchNote(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authedUser(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		noteID := c.Param("id")

		lr := io.LimitReader(c.Request().Body, noteBodyMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var req updateNoteRequest
		if err := dec.Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}

		fields := make(map[string]any)
		if req.CustomerName != nil {
			if strings.TrimSpace(*req.CustomerName) == "" {
				return c.String(http.StatusBadRequest, "customerName must not be empty")
			}
			fields["CustomerName"] = *req.CustomerName
		}
		if req.Subject != nil {
			fields["Subject"] = *req.Subject
		}
		if req.Remarks != nil {
			fields["Remarks"] = *req.Remarks
		}
		if req.Status != nil {
			if !domain.Status(*req.Status).Valid() {
				return c.String(http.StatusBadRequest, "invalid status")
			}
			fields["Status"] = *req.Status
		}
		if req.NoteType != nil {
			fields["NoteType"] = *req.NoteType
		}
		if req.Deadline != nil {
			fields["Deadline"] = req.Deadline.Format(time.RFC3339)
		}
		if req.DeadlineType != nil {
			if !validDeadlineType(*req.DeadlineType) {
				return c.String(http.StatusBadRequest, "invalid deadlineType")
			}
			fields["DeadlineType"] = *req.DeadlineType
		}
		if len(fields) == 0 {
			return c.String(http.StatusBadRequest, "no fields to update")
		}

		if err := store.MergeNote(ctx, userID, noteID, fields); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to update note")
		}

		publishNoteEvent(c, userID, domain.EventNoteUpdated, noteID, fields)
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteNote(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authedUser(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		noteID := c.Param("id")

		if err := store.DeleteNote(ctx, userID, noteID); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to delete note")
		}

		publishNoteEvent(c, userID, domain.EventNoteDeleted, noteID, nil)
		return c.NoContent(http.StatusNoContent)
	}
}

func postNotePosition(store Storage, auth Authenticator, cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authedUser(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		noteID := c.Param("id")

		lr := io.LimitReader(c.Request().Body, noteBodyMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var req dragRequest
		if err := dec.Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.UsableWidth <= 0 {
			return c.String(http.StatusBadRequest, "invalid usable width")
		}

		notes, err := store.FetchNotes(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		var dragged *domain.Note
		for i := range notes {
			if notes[i].ID == noteID {
				dragged = &notes[i]
				break
			}
		}
		if dragged == nil {
			return c.String(http.StatusNotFound, "note not found")
		}

		x, y := cfg.Layout.ResolveDrag(*dragged, req.DX, req.DY, notes, req.UsableWidth)

		// Only the dragged note's position is persisted.
		if err := store.MergeNote(ctx, userID, noteID, map[string]any{
			"PositionX": x,
			"PositionY": y,
		}); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to save position")
		}

		publishNoteEvent(c, userID, domain.EventNoteMoved, noteID, domain.Placement{NoteID: noteID, X: x, Y: y})
		return c.JSON(http.StatusOK, dragResponse{X: x, Y: y})
	}
}

func postNoteFront(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authedUser(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		noteID := c.Param("id")

		notes, err := store.FetchNotes(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		found := false
		for _, n := range notes {
			if n.ID == noteID {
				found = true
				break
			}
		}
		if !found {
			return c.String(http.StatusNotFound, "note not found")
		}

		z := domain.MaxZIndex(notes) + 1
		if err := store.MergeNote(ctx, userID, noteID, map[string]any{"ZIndex": z}); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to raise note")
		}

		publishNoteEvent(c, userID, domain.EventNoteUpdated, noteID, map[string]any{"zIndex": z})
		return c.JSON(http.StatusOK, frontResponse{ZIndex: z})
	}
}

func postArrange(store Storage, auth Authenticator, cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authedUser(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		lr := io.LimitReader(c.Request().Body, noteBodyMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var req arrangeRequest
		if err := dec.Decode(&req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.UsableWidth <= 0 {
			return c.String(http.StatusBadRequest, "invalid usable width")
		}
		if req.Status != "" && !domain.Status(req.Status).Valid() {
			return c.String(http.StatusBadRequest, "invalid status filter")
		}

		notes, err := store.FetchNotes(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		settings, settingsErr := store.FetchSettings(ctx, userID)
		if settingsErr != nil {
			c.Logger().Warnf("fetch settings: %v", settingsErr)
			settings = domain.Settings{}
		}

		filtered := filterNotes(notes, req.Status, req.NoteType, settings.ShowArchived)
		domain.SortByCustomer(filtered)
		placements := cfg.Layout.BulkArrange(filtered, req.UsableWidth)

		// One write per note, concurrently, no ordering and no rollback. A
		// failed write leaves that note unarranged until the next pass.
		failed := store.UpdateNotePositions(ctx, userID, placements)
		failedIDs := make([]string, 0, len(failed))
		failedSet := make(map[string]struct{}, len(failed))
		for _, f := range failed {
			c.Logger().Errorf("arrange: position write failed for note %s: %v", f.NoteID, f.Err)
			failedIDs = append(failedIDs, f.NoteID)
			failedSet[f.NoteID] = struct{}{}
		}

		events := make([]domain.Event, 0, len(placements))
		for _, p := range placements {
			if _, ok := failedSet[p.NoteID]; ok {
				continue
			}
			data, err := sonic.Marshal(p)
			if err != nil {
				continue
			}
			events = append(events, domain.Event{
				ID:         uuid.NewString(),
				EntityType: domain.EntityNote,
				Type:       domain.EventNoteMoved,
				EntityID:   p.NoteID,
				Data:       data,
				Timestamp:  nextTimestamp(),
			})
		}
		publishEvents(c.Logger(), publishJob{userID: userID, events: events})

		return c.JSON(http.StatusOK, arrangeResponse{
			Arranged:   len(placements) - len(failed),
			Failed:     len(failed),
			FailedIDs:  failedIDs,
			Placements: placements,
		})
	}
}

func getSummary(store Storage, auth Authenticator, cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authedUser(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		notes, err := store.FetchNotes(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		today := cfg.today()
		return c.JSON(http.StatusOK, summaryResponse{
			Today:    domain.CountByHorizon(notes, today, 0),
			Tomorrow: domain.CountByHorizon(notes, today, 1),
			DayAfter: domain.CountByHorizon(notes, today, 2),
		})
	}
}

func getWeek(store Storage, auth Authenticator, cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authedUser(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		notes, err := store.FetchNotes(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		settings, settingsErr := store.FetchSettings(ctx, userID)
		if settingsErr != nil {
			c.Logger().Warnf("fetch settings: %v", settingsErr)
			settings = domain.Settings{}
		}

		days := domain.WeekView(notes, cfg.today(), settings.WorkdayCount())
		return c.JSON(http.StatusOK, weekResponse{Days: days})
	}
}

func getCalendar(store Storage, auth Authenticator, cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authedUser(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		year, err := strconv.Atoi(c.Param("year"))
		if err != nil || year < 1 {
			return c.String(http.StatusBadRequest, "invalid year")
		}
		month, err := strconv.Atoi(c.Param("month"))
		if err != nil || month < 1 || month > 12 {
			return c.String(http.StatusBadRequest, "invalid month")
		}

		notes, err := store.FetchNotes(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		cells := domain.MonthGrid(year, time.Month(month), cfg.Location, notes)
		return c.JSON(http.StatusOK, calendarResponse{Year: year, Month: month, Cells: cells})
	}
}

func getNoteICS(store Storage, auth Authenticator, cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authedUser(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		noteID := c.Param("id")

		notes, err := store.FetchNotes(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		for _, n := range notes {
			if n.ID != noteID {
				continue
			}
			if n.Deadline == nil {
				return c.String(http.StatusBadRequest, "note has no deadline")
			}
			blob := ics.Emit(n, cfg.today())
			return c.Blob(http.StatusOK, "text/calendar; charset=utf-8", []byte(blob))
		}
		return c.String(http.StatusNotFound, "note not found")
	}
}

func postImportEmail(store Storage, auth Authenticator, deduper Deduper, cfg Config) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authedUser(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		raw, err := io.ReadAll(io.LimitReader(c.Request().Body, importMessageMaxSize))
		if err != nil {
			return c.String(http.StatusBadRequest, "unreadable body")
		}
		msg, err := email.Parse(raw)
		if err != nil {
			return c.String(http.StatusBadRequest, "invalid email message")
		}

		release, err := claimIdempotencyKey(c, deduper, userID)
		if err != nil {
			return err
		}

		existing, err := store.FetchNotes(ctx, userID)
		if err != nil {
			release(ctx)
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}

		customer := msg.FromName
		if customer == "" {
			customer = msg.FromAddress
		}
		x, y, z := cfg.Layout.InitialPlacement(len(existing), domain.MaxZIndex(existing))
		note := domain.Note{
			ID:           uuid.NewString(),
			CustomerName: customer,
			Subject:      msg.Subject,
			Status:       domain.StatusNew,
			NoteType:     domain.TypeEmail,
			PositionX:    x,
			PositionY:    y,
			ZIndex:       z,
			EmailFrom:    msg.From,
			EmailContent: msg.Content,
		}
		if !msg.ReceivedAt.IsZero() {
			received := msg.ReceivedAt
			note.EmailReceivedAt = &received
		}
		if err := store.InsertNote(ctx, userID, note); err != nil {
			release(ctx)
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to create note")
		}

		publishNoteEvent(c, userID, domain.EventNoteCreated, note.ID, note)
		return c.JSON(http.StatusCreated, note)
	}
}

func getSettings(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authedUser(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		settings, err := store.FetchSettings(ctx, userID)
		if err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, err.Error())
		}
		return c.JSON(http.StatusOK, settings)
	}
}

func putSettings(store Storage, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		userID, err := authedUser(c, auth)
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		lr := io.LimitReader(c.Request().Body, noteBodyMaxSize)
		dec := sonic.ConfigStd.NewDecoder(lr)
		dec.DisallowUnknownFields()

		var settings domain.Settings
		if err := dec.Decode(&settings); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if settings.WorkdaysAhead < 0 || settings.WorkdaysAhead > 20 {
			return c.String(http.StatusBadRequest, "invalid workdaysAhead")
		}

		if err := store.UpsertSettings(ctx, userID, settings); err != nil {
			c.Logger().Error(err)
			return c.String(http.StatusInternalServerError, "failed to save settings")
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func validDeadlineType(v string) bool {
	switch domain.DeadlineType(v) {
	case "", domain.DeadlineMust, domain.DeadlineApprox:
		return true
	}
	return false
}

// claimIdempotencyKey records the request's Idempotency-Key header, if any.
// Replays yield a 409 error the caller must return unhandled; the returned
// release func undoes the claim when downstream processing fails so the client
// may retry.
func claimIdempotencyKey(c echo.Context, deduper Deduper, userID string) (func(ctx context.Context), error) {
	noop := func(context.Context) {}
	key := strings.TrimSpace(c.Request().Header.Get("Idempotency-Key"))
	if key == "" || deduper == nil {
		return noop, nil
	}

	ctx := c.Request().Context()
	added, err := deduper.Add(ctx, userID, key)
	if err != nil {
		c.Logger().Error(err)
		return noop, echo.NewHTTPError(http.StatusInternalServerError, "idempotency check failed")
	}
	if !added {
		return noop, echo.NewHTTPError(http.StatusConflict, "duplicate request")
	}

	release := func(ctx context.Context) {
		if rerr := deduper.Remove(ctx, userID, key); rerr != nil {
			c.Logger().Errorf("idempotency rollback failed: %v", rerr)
		}
	}
	return release, nil
}

func publishNoteEvent(c echo.Context, userID, eventType, noteID string, payload any) {
	var data sonic.NoCopyRawMessage
	if payload != nil {
		if b, err := sonic.Marshal(payload); err == nil {
			data = b
		}
	}
	publishEvents(c.Logger(), publishJob{userID: userID, events: []domain.Event{{
		ID:         uuid.NewString(),
		EntityType: domain.EntityNote,
		Type:       eventType,
		EntityID:   noteID,
		Data:       data,
		Timestamp:  nextTimestamp(),
	}}})
}
