package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hackgods/panchakarma-booking/internal/appointment"
	"github.com/hackgods/panchakarma-booking/internal/auth"
	"github.com/hackgods/panchakarma-booking/internal/booking"
	"github.com/hackgods/panchakarma-booking/internal/dashboard"
	"github.com/hackgods/panchakarma-booking/internal/directory"
	"github.com/hackgods/panchakarma-booking/internal/geo"
)

func (h *handlers) actor(r *http.Request) auth.AuthContext {
	ac, _ := auth.FromContext(r.Context())
	return ac
}

func (h *handlers) bookedSlots(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not read body")
		return
	}
	status, payload := h.cfg.Functions.BookedSlots(r.Context(), body)
	writeJSON(w, status, payload)
}

func (h *handlers) sendConfirmation(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not read body")
		return
	}
	status, payload := h.cfg.Functions.SendConfirmation(r.Context(), body)
	writeJSON(w, status, payload)
}

func (h *handlers) listTherapies(w http.ResponseWriter, r *http.Request) {
	therapies := appointment.Therapies()
	out := make([]TherapyResponse, 0, len(therapies))
	for _, t := range therapies {
		out = append(out, TherapyResponse{Therapy: t, Precautions: appointment.PrecautionsFor(t.ID)})
	}
	writeJSON(w, http.StatusOK, ListResponse[TherapyResponse]{Items: out})
}

func (h *handlers) listCenters(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := directory.CenterFilter{
		City:  q.Get("city"),
		Query: q.Get("q"),
		Limit: intQuery(r, "limit"),
	}

	rawLat, rawLon := q.Get("lat"), q.Get("lon")
	if rawLat != "" || rawLon != "" {
		lat, latErr := strconv.ParseFloat(rawLat, 64)
		lon, lonErr := strconv.ParseFloat(rawLon, 64)
		if latErr != nil || lonErr != nil || lat < -90 || lat > 90 || lon < -180 || lon > 180 {
			writeError(w, http.StatusBadRequest, "invalid_coordinates", "lat and lon must be given together as valid coordinates")
			return
		}
		f.Near = &geo.Point{Lat: lat, Lon: lon}
	}

	centers, err := h.cfg.Directory.ListCenters(r.Context(), f)
	if err != nil {
		h.handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[directory.Center]{Items: centers})
}

func (h *handlers) getCenter(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	center, err := h.cfg.Directory.GetCenter(r.Context(), id)
	if err != nil {
		h.handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, center)
}

func (h *handlers) listPractitioners(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	ps, err := h.cfg.Directory.ListPractitioners(r.Context(), id)
	if err != nil {
		h.handleDirectoryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListResponse[directory.Practitioner]{Items: ps})
}

// handleDirectoryError reports reference data failures as data_unavailable
// unless the row is simply missing.
func (h *handlers) handleDirectoryError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, directory.ErrCenterNotFound) || errors.Is(err, directory.ErrPractitionerNotFound) {
		h.handleServiceError(w, r, err)
		return
	}
	h.handleServiceError(w, r, errors.Join(appointment.ErrDataUnavailable, err))
}

func (h *handlers) practitionerAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	date := r.URL.Query().Get("date")
	if date == "" {
		writeError(w, http.StatusBadRequest, "missing_date", "date query parameter is required")
		return
	}
	av, err := h.cfg.Appointments.AvailableSlots(r.Context(), id, date)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

func (h *handlers) startBooking(w http.ResponseWriter, r *http.Request) {
	d, err := h.cfg.Workflow.Start(r.Context(), h.actor(r))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *handlers) getBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	d, err := h.cfg.Workflow.Get(r.Context(), h.actor(r), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handlers) updateBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var patch booking.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	d, err := h.cfg.Workflow.Update(r.Context(), h.actor(r), id, patch)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handlers) discardBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if err := h.cfg.Workflow.Discard(r.Context(), h.actor(r), id); err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) bookingAvailability(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	av, err := h.cfg.Workflow.Availability(r.Context(), h.actor(r), id, r.URL.Query().Get("date"))
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, av)
}

func (h *handlers) nextBookingStep(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	d, err := h.cfg.Workflow.Next(r.Context(), h.actor(r), id)
	h.writeStep(w, r, d, err)
}

func (h *handlers) previousBookingStep(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	d, err := h.cfg.Workflow.Back(r.Context(), h.actor(r), id)
	h.writeStep(w, r, d, err)
}

func (h *handlers) commitBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	d, err := h.cfg.Workflow.Commit(r.Context(), h.actor(r), id)
	h.writeStep(w, r, d, err)
}

// writeStep answers a wizard move. A slot conflict carries the draft, now
// back on slot selection with the refreshed occupied set.
func (h *handlers) writeStep(w http.ResponseWriter, r *http.Request, d *booking.Draft, err error) {
	if err != nil {
		if errors.Is(err, appointment.ErrSlotConflict) && d != nil {
			writeJSON(w, http.StatusConflict, ErrorResponse{
				Error:   "slot_conflict",
				Details: err.Error(),
				Draft:   d,
			})
			return
		}
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handlers) appointmentResponse(a appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		Appointment: a,
		TherapyName: appointment.TherapyName(a.Therapy),
		Cancellable: h.cfg.Appointments.Cancellable(a),
	}
}

func (h *handlers) createAppointment(w http.ResponseWriter, r *http.Request) {
	var req appointment.BookingRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	req.PatientID = h.actor(r).Session.UserID

	appt, err := h.cfg.Appointments.Book(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}

	resp := h.appointmentResponse(*appt)
	if h.cfg.Notifier == nil {
		resp.Warning = booking.NotificationWarning
	} else if err := h.cfg.Notifier.Enqueue(r.Context(), appt.ID); err != nil {
		h.logger.Warn("enqueue confirmation failed", "appointment_id", appt.ID, "error", err)
		resp.Warning = booking.NotificationWarning
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *handlers) getAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	appt, err := h.cfg.Appointments.Get(r.Context(), h.actor(r), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.appointmentResponse(*appt))
}

func (h *handlers) cancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	appt, err := h.cfg.Appointments.Cancel(r.Context(), h.actor(r), id)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{ID: appt.ID, Status: appt.Status})
}

func (h *handlers) completeAppointment(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	var req CompleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	log, err := h.cfg.Appointments.LogSession(r.Context(), h.actor(r), id, req.Notes)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, log)
}

func (h *handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	view, err := dashboard.For(h.cfg.Appointments, h.actor(r), time.Now())
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	d, err := dashboard.Build(r.Context(), h.cfg.Appointments, view)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handlers) listAllAppointments(w http.ResponseWriter, r *http.Request) {
	f := appointment.ListFilter{Limit: intQuery(r, "limit"), Offset: intQuery(r, "offset")}
	if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
		status := appointment.AppointmentStatus(strings.ToLower(raw))
		switch status {
		case appointment.StatusPending, appointment.StatusConfirmed, appointment.StatusCompleted, appointment.StatusCancelled:
		default:
			writeError(w, http.StatusBadRequest, "invalid_status", "status must be pending, confirmed, completed or cancelled")
			return
		}
		f.Status = &status
	}
	var err error
	if f.From, err = timeQuery(r, "from"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_from", "from must be an RFC 3339 timestamp")
		return
	}
	if f.To, err = timeQuery(r, "to"); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_to", "to must be an RFC 3339 timestamp")
		return
	}

	appts, err := h.cfg.Appointments.ListAll(r.Context(), f)
	if err != nil {
		h.handleServiceError(w, r, err)
		return
	}
	out := make([]AppointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, h.appointmentResponse(a))
	}
	writeJSON(w, http.StatusOK, ListResponse[AppointmentResponse]{Items: out, Limit: f.Limit, Offset: f.Offset})
}
