package devicemanager

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"google.golang.org/protobuf/encoding/protojson"
)

// InvalidParametersMessage is the body of every 401 caused by the caller's
// token or request shape.
const InvalidParametersMessage = "Invalid Parameters"

// ErrInvalidToken is returned when the Authorization header is not an accepted token.
var ErrInvalidToken = &types.AuthError{Reason: "invalid token"}

// DeviceIDParam is the route parameter naming the device.
const DeviceIDParam = "deviceId"

// FnVersion reports the build version.
func (m *Manager) FnVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": m.cfg.Version})
}

// RegisterIotDevice is the HTTP boundary for RegisterDevice.
func (m *Manager) RegisterIotDevice(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, m.cfg.MaxBodyBytes))
	if err != nil {
		m.logger.Warn().Err(err).Msg("Could not read registration body")
		writeText(w, http.StatusUnauthorized, InvalidParametersMessage)
		return
	}

	resp, err := m.RegisterDevice(r.Context(), r.Header.Get("Authorization"), body)
	if err != nil {
		m.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// CommandResult is the response to a command request.
type CommandResult struct {
	Confirmed bool   `json:"confirmed"`
	Error     string `json:"error,omitempty"`
}

// SendCommand is the HTTP boundary for SendCommandToIotDevice. The body is
// the command object. The response is always 200 once the request is valid.
func (m *Manager) SendCommand(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := m.authorizeDeviceRequest(w, r)
	if !ok {
		return
	}
	var data map[string]any
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, m.cfg.MaxBodyBytes)).Decode(&data); err != nil || data == nil {
		m.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Command body is not a JSON object")
		writeText(w, http.StatusUnauthorized, InvalidParametersMessage)
		return
	}

	result := m.SendCommandToIotDevice(r.Context(), deviceID, data)
	writeJSON(w, http.StatusOK, CommandResult{Confirmed: result == "", Error: result})
}

// ResetDevice is the HTTP boundary for ResetIotDevice.
func (m *Manager) ResetDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := m.authorizeDeviceRequest(w, r)
	if !ok {
		return
	}
	if err := m.ResetIotDevice(r.Context(), deviceID); err != nil {
		m.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deviceId": deviceID, "reset": true})
}

// ShowDevice returns a device's registry record and last reported state.
func (m *Manager) ShowDevice(w http.ResponseWriter, r *http.Request) {
	deviceID, ok := m.authorizeDeviceRequest(w, r)
	if !ok {
		return
	}
	record, err := m.GetDevice(r.Context(), deviceID)
	if err != nil {
		m.writeError(w, err)
		return
	}
	device, err := protojson.Marshal(record.Device)
	if err != nil {
		m.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Device json.RawMessage `json:"device"`
		State  map[string]any  `json:"state,omitempty"`
	}{Device: device, State: record.State})
}

func (m *Manager) authorizeDeviceRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	deviceID := chi.URLParam(r, DeviceIDParam)
	if !m.HasValidToken(r) || deviceID == "" {
		writeText(w, http.StatusUnauthorized, InvalidParametersMessage)
		return "", false
	}
	return deviceID, true
}

// writeError reports caller mistakes as 401 Invalid Parameters and backend
// failures with their carried status, or 401 when none is carried.
func (m *Manager) writeError(w http.ResponseWriter, err error) {
	var validationErr *types.ValidationError
	if errors.Is(err, ErrInvalidToken) || errors.As(err, &validationErr) {
		m.logger.Warn().Err(err).Msg("Rejected request")
		writeText(w, http.StatusUnauthorized, InvalidParametersMessage)
		return
	}
	m.logger.Warn().Err(err).Msg("Request failed")
	writeText(w, types.StatusCode(err), "Error: "+err.Error())
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
