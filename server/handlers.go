package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/campuskit/sentinel/server/alerts"
	"github.com/campuskit/sentinel/server/auth"
	"github.com/campuskit/sentinel/server/auth/key"
	"github.com/campuskit/sentinel/server/models"
	"github.com/golang-jwt/jwt"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type ResponsePayload struct {
	Errors  []string       `json:"errors,omitempty"`
	Success bool           `json:"success"`
	Data    interface{}    `json:"data,omitempty"`
	Paging  *models.Paging `json:"paging,omitempty"`
}

type RequestContextKey string

type DecodedJWT struct {
	Claims   *auth.SentinelTokenClaims
	ErrorMsg string
}

type createAlertRequest struct {
	Type     string `json:"type" validate:"omitempty,oneof=silent high"`
	Message  string `json:"message" validate:"omitempty,max=500"`
	Location struct {
		Latitude  *float64 `json:"latitude" validate:"required,min=-90,max=90"`
		Longitude *float64 `json:"longitude" validate:"required,min=-180,max=180"`
		Address   string   `json:"address"`
	} `json:"location"`
}

// ---------------------------------------------------------------------------------//
// Auth handlers
// --------------------------------------------------------------------------------//

func register(rw http.ResponseWriter, r *http.Request) {
	data := models.User{}
	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	errs := validate.Struct(data)
	if errs != nil {
		writeResponse(rw, ResponsePayload{Errors: strings.Split(errs.Error(), "\n")}, http.StatusBadRequest)
		return
	}

	if _, err = models.FindUserBy("email", data.Email); err == nil {
		writeResponse(rw, ResponsePayload{Errors: []string{"user already exists with this email"}}, http.StatusBadRequest)
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		writeInternalServerError(rw, err)
		return
	}

	// The very first account on a fresh install is the admin,
	// everyone after that is a student.
	roleName := models.STUDENT_USER_ROLE
	anyUser, err := models.AtLeastOneUserExists()
	if err != nil {
		writeInternalServerError(rw, err)
		return
	}
	if !anyUser {
		roleName = models.ADMIN_USER_ROLE
	}

	role, err := models.FindRole(roleName)
	if err != nil {
		writeInternalServerError(rw, err)
		return
	}
	data.RoleID = role.ID

	if err = models.CreateUser(&data); err != nil {
		writeInternalServerError(rw, err)
		return
	}

	token, err := tokenForUser(&data, roleName == models.ADMIN_USER_ROLE)
	if err != nil {
		writeInternalServerError(rw, err)
		return
	}

	data.Password = ""
	writeResponse(rw, ResponsePayload{
		Success: true,
		Data:    map[string]interface{}{"user": data, "token": token},
	}, http.StatusCreated)
}

func logIn(rw http.ResponseWriter, r *http.Request) {
	data := make(map[string]string)
	json.NewDecoder(r.Body).Decode(&data)

	passwordHash, err := models.FindUserPassword(data["email"])
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		writeInternalServerError(rw, err)
		return
	}

	if !auth.CheckPasswordHash(data["password"], passwordHash) {
		writeResponse(rw, ResponsePayload{Errors: []string{"email/password is invalid"}}, http.StatusUnauthorized)
		return
	}

	user, err := models.FindUserBy("email", data["email"])
	if err != nil {
		writeInternalServerError(rw, err)
		return
	}

	isAdminUser, err := user.IsAdmin()
	if err != nil {
		writeInternalServerError(rw, err)
		return
	}

	token, err := tokenForUser(user, isAdminUser)
	if err != nil {
		writeInternalServerError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{
		Success: true,
		Data:    map[string]interface{}{"token": token},
	}, http.StatusOK)
}

func currentUser(rw http.ResponseWriter, r *http.Request) {
	user, err := models.FindUserBy("id", requestUserClaims(r).Subject)
	if err != nil {
		writeInternalServerError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: user}, http.StatusOK)
}

func findUser(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	claims := requestUserClaims(r)

	// users can only look up their own record, admins can look up anyone
	if vars["id"] != claims.Subject && !isAdmin(claims) {
		writeResponse(rw, ResponsePayload{Errors: []string{"action is forbidden"}}, http.StatusForbidden)
		return
	}

	user, err := models.FindUserBy("id", vars["id"])
	if errors.Is(err, gorm.ErrRecordNotFound) {
		writeResponse(rw, ResponsePayload{Errors: []string{"user not found"}}, http.StatusNotFound)
		return
	}
	if err != nil {
		writeInternalServerError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: user}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Emergency contact handlers
// --------------------------------------------------------------------------------//

func findEmergencyContacts(rw http.ResponseWriter, r *http.Request) {
	user, err := models.FindUserBy("id", requestUserClaims(r).Subject)
	if err != nil {
		writeInternalServerError(rw, err)
		return
	}

	if err = user.LoadContacts(); err != nil {
		writeInternalServerError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: user.Contacts}, http.StatusOK)
}

func createEmergencyContact(rw http.ResponseWriter, r *http.Request) {
	data := models.Contact{}
	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	errs := validate.Struct(data)
	if errs != nil {
		writeResponse(rw, ResponsePayload{Errors: strings.Split(errs.Error(), "\n")}, http.StatusBadRequest)
		return
	}

	user, err := models.FindUserBy("id", requestUserClaims(r).Subject)
	if err != nil {
		writeInternalServerError(rw, err)
		return
	}

	// verification is its own flow - a new contact always starts unverified
	data.IsVerified = false

	if err = user.AddContact(&data); err != nil {
		writeInternalServerError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: data}, http.StatusCreated)
}

func updateEmergencyContact(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var errs []string

	data := make(map[string]interface{})
	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	removeUnknownFields(data, map[string]bool{"name": true, "phone_number": true, "email": true, "relation": true})
	if len(data) <= 0 {
		writeResponse(rw, ResponsePayload{Errors: []string{"valid fields required"}}, http.StatusBadRequest)
		return
	}

	if data["phone_number"] != nil && !isValidPhoneNumber(fmt.Sprintf("%v", data["phone_number"])) {
		errs = append(errs, "valid phone number is required")
	}

	if data["email"] != nil && validate.Var(fmt.Sprintf("%v", data["email"]), "email") != nil {
		errs = append(errs, "valid email is required")
	}

	if len(errs) > 0 {
		writeResponse(rw, ResponsePayload{Errors: errs}, http.StatusBadRequest)
		return
	}

	user, contact, statusCode, err := ownedContact(r, vars["id"])
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, statusCode)
		return
	}

	if err = user.UpdateContact(contact.ID, data); err != nil {
		writeInternalServerError(rw, err)
		return
	}

	contact, err = models.FindContact(contact.ID)
	if err != nil {
		writeInternalServerError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: contact}, http.StatusOK)
}

func deleteEmergencyContact(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	user, contact, statusCode, err := ownedContact(r, vars["id"])
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, statusCode)
		return
	}

	if err = user.DeleteContact(contact.ID); err != nil {
		writeInternalServerError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: map[string]interface{}{}}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Emergency alert handlers
// --------------------------------------------------------------------------------//

func createEmergencyAlert(rw http.ResponseWriter, r *http.Request) {
	data := createAlertRequest{}
	err := json.NewDecoder(r.Body).Decode(&data)
	if err != nil {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}

	errs := validate.Struct(data)
	if errs != nil {
		writeResponse(rw, ResponsePayload{Errors: strings.Split(errs.Error(), "\n")}, http.StatusBadRequest)
		return
	}

	alert, err := alertManager.CreateAlert(requestUserClaims(r).Subject, alerts.CreateAlertParams{
		Type:      data.Type,
		Message:   data.Message,
		Latitude:  *data.Location.Latitude,
		Longitude: *data.Location.Longitude,
		Address:   data.Location.Address,
	})
	if errors.Is(err, alerts.ErrNoVerifiedContacts) {
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
		return
	}
	if err != nil {
		writeInternalServerError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: alert}, http.StatusCreated)
}

func findEmergencyAlerts(rw http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))

	userAlerts, paging, err := alertManager.ListAlerts(requestUserID(r), page)
	if err != nil {
		writeInternalServerError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: userAlerts, Paging: paging}, http.StatusOK)
}

func findEmergencyAlert(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	alert, err := alertManager.GetAlert(vars["id"], requestUserID(r))
	if err != nil {
		writeAlertError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: alert}, http.StatusOK)
}

func cancelEmergencyAlert(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	alert, err := alertManager.CancelAlert(vars["id"], requestUserID(r))
	if err != nil {
		writeAlertError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: alert}, http.StatusOK)
}

func resolveEmergencyAlert(rw http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	alert, err := alertManager.ResolveAlert(vars["id"], requestUserID(r))
	if err != nil {
		writeAlertError(rw, err)
		return
	}

	writeResponse(rw, ResponsePayload{Success: true, Data: alert}, http.StatusOK)
}

// ---------------------------------------------------------------------------------//
// Misc handlers
// --------------------------------------------------------------------------------//

func healthCheck(rw http.ResponseWriter, r *http.Request) {
	writeResponse(rw, ResponsePayload{
		Success: true,
		Data:    map[string]interface{}{"timestamp": time.Now().UTC().Format(time.RFC3339)},
	}, http.StatusOK)
}

func jwks(rw http.ResponseWriter, r *http.Request) {
	keyPairJWK, err := authKeyPair.JWK()
	if err != nil {
		writeInternalServerError(rw, err)
		return
	}

	rw.WriteHeader(http.StatusOK)
	json.NewEncoder(rw).Encode(key.ExportJWKAsJWKS(keyPairJWK))
}

func notFound(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")
	writeResponse(rw, ResponsePayload{Errors: []string{"route not found"}}, http.StatusNotFound)
}

// ---------------------------------------------------------------------------------//
// Handler helpers
// --------------------------------------------------------------------------------//

func tokenForUser(user *models.User, isAdminUser bool) (string, error) {
	return auth.EncodeJWT(auth.SentinelTokenClaims{
		FullName:    user.FullName,
		PhoneNumber: user.PhoneNumber,
		IsAdmin:     isAdminUser,
		StandardClaims: jwt.StandardClaims{
			Subject:   fmt.Sprint(user.ID),
			IssuedAt:  time.Now().Unix(),
			ExpiresAt: time.Now().Add(auth.TokenTTL).Unix(),
		},
	}, authKeyPair)
}

func ownedContact(r *http.Request, contactID string) (*models.User, *models.Contact, int, error) {
	contact, err := models.FindContact(contactID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, http.StatusNotFound, errors.New("emergency contact not found")
	}
	if err != nil {
		return nil, nil, http.StatusInternalServerError, err
	}

	if contact.UserID != requestUserID(r) {
		return nil, nil, http.StatusUnauthorized, errors.New("not authorized to access this contact")
	}

	user, err := models.FindUserBy("id", requestUserClaims(r).Subject)
	if err != nil {
		return nil, nil, http.StatusInternalServerError, err
	}

	return user, contact, http.StatusOK, nil
}

func writeAlertError(rw http.ResponseWriter, err error) {
	var invalidTransition *alerts.InvalidStateTransitionError

	switch {
	case errors.Is(err, alerts.ErrAlertNotFound):
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusNotFound)
	case errors.Is(err, alerts.ErrNotAlertOwner):
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusUnauthorized)
	case errors.As(err, &invalidTransition):
		writeResponse(rw, ResponsePayload{Errors: []string{err.Error()}}, http.StatusBadRequest)
	default:
		writeInternalServerError(rw, err)
	}
}
