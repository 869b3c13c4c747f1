package server

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/campuskit/sentinel/server/auth"
	"github.com/campuskit/sentinel/server/models"
	"github.com/campuskit/sentinel/server/work"
	"github.com/campuskit/sentinel/utils"
	"github.com/go-playground/validator"
)

// Same pattern the contact registry has always enforced for
// international-format numbers.
var phoneNumberRegex = regexp.MustCompile(`^\+?[1-9]\d{1,14}$`)

// ---------------------------------------------------------------------------------//
// Handler Helper functions
// --------------------------------------------------------------------------------//

func writeResponse(rw http.ResponseWriter, payLoad ResponsePayload, statusCode int) {
	if statusCode >= http.StatusInternalServerError {
		logg.Error(payLoad.Errors)
	} else if statusCode >= http.StatusBadRequest {
		logg.Info(payLoad.Errors)
	}

	rw.WriteHeader(statusCode)
	json.NewEncoder(rw).Encode(payLoad)
}

func writeInternalServerError(rw http.ResponseWriter, err error) {
	errMsg := "Internal Server Error"
	if devMode {
		errMsg = err.Error()
	}

	logg.Error(err)
	writeResponse(rw, ResponsePayload{Errors: []string{errMsg}}, http.StatusInternalServerError)
}

func removeUnknownFields(args map[string]interface{}, validFields map[string]bool) {
	for key := range args {
		if !validFields[key] {
			delete(args, key)
		}
	}
}

func RegisterValidators(validate *validator.Validate) error {
	err := validate.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		// if whitespace in password return false
		err := validate.Var(fl.Field().String(), "contains= ")
		if err == nil {
			return false
		}
		return len(fl.Field().String()) > 0
	})
	if err != nil {
		return err
	}

	err = validate.RegisterValidation("phone_number", func(fl validator.FieldLevel) bool {
		return isValidPhoneNumber(fl.Field().String())
	})
	if err != nil {
		return err
	}

	return nil
}

func isValidPhoneNumber(phoneNumber string) bool {
	return phoneNumberRegex.MatchString(phoneNumber)
}

// ---------------------------------------------------------------------------------//
// Middleware Helper functions
// --------------------------------------------------------------------------------//

func decodeAndVerifyAuthHeader(authHeaderValue string) DecodedJWT {
	authHeaderList := strings.Split(authHeaderValue, "Bearer ")
	if len(authHeaderList) < 2 {
		return DecodedJWT{ErrorMsg: "no token provided"}
	}

	tokenClaims, err := auth.DecodeJWT(authHeaderList[1], authKeyPair)
	if err != nil {
		return DecodedJWT{ErrorMsg: "invalid token provided"}
	}

	// validate that the user account still exists
	_, err = models.FindUserBy("id", tokenClaims.Subject)
	if err != nil {
		return DecodedJWT{ErrorMsg: "invalid token provided"}
	}

	return DecodedJWT{Claims: tokenClaims}
}

func requestUserClaims(r *http.Request) *auth.SentinelTokenClaims {
	return r.Context().Value(RequestContextKey("decodedJWT")).(DecodedJWT).Claims
}

func requestUserID(r *http.Request) uint {
	claims := requestUserClaims(r)

	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil {
		return 0
	}

	return uint(id)
}

// isAdmin is the role check for admin-only resources - a predicate over the
// resolved identity rather than a separate middleware chain.
func isAdmin(claims *auth.SentinelTokenClaims) bool {
	return claims != nil && claims.IsAdmin
}

// ---------------------------------------------------------------------------------//
// Server Helper functions
// --------------------------------------------------------------------------------//

func serve(server *http.Server) {
	logg.Infof("Sentinel server is listening on port%v", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Fatal(err)
	}
}

func cleanup(workerPool *work.WorkerPoolAdapter, server *http.Server, backupDb func()) {
	// Stop all background jobs i.e. db backups & queue workers
	workerPool.Stop()

	if backupDb != nil {
		backupDb()
	}

	// Shutdown server gracefully
	ctxShutDown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctxShutDown); err != nil {
		logg.Fatalf("Sentinel server shutdown failed:%+s", err)
	}

	logg.Infof("Sentinel server stopped properly")
}

// configDirectory retrieves the directory to store sentinel configs
// Or logs an error message and then calls os.Exit if it's unable to.
func configDirectory(devMode bool) string {
	// Use 'sentinel' folder in home directory for prod
	configFolderName := "sentinel"
	rootDir, err := os.UserHomeDir()
	fatalOnError(err)

	// Use 'dev' folder in current directory for dev mode
	if devMode {
		configFolderName = "dev"
		rootDir, err = os.Getwd()
		fatalOnError(err)
	}

	configDir := filepath.Join(rootDir, configFolderName)

	err = utils.CreateDirIfNotExist(configDir)
	fatalOnError(err)

	return configDir
}

func fatalOnError(err error) {
	if err != nil {
		logg.Fatal(err)
	}
}
