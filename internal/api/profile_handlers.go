package api

import (
	"encoding/json"
	"io"
	"mime"
	"net/http"

	"github.com/fuomag9/dynamics-sync-lite/internal/activity"
	"github.com/fuomag9/dynamics-sync-lite/internal/profile"
	"github.com/fuomag9/dynamics-sync-lite/internal/session"
)

const maxFormBytes = 64 << 10

// HandleGetProfile returns the visitor's contact or a default shell
func HandleGetProfile(profiles *profile.Service, recorder *activity.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, _ := session.FromContext(r.Context())

		result, err := profiles.LoadProfile(r.Context(), sess)
		if err != nil {
			recorder.Error(r.Context(), "Failed to load profile", activity.Fields{"error": err.Error()})
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, envelope{"success": true, "contact": result})
	}
}

// HandleUpdateProfile saves the visitor's contact
func HandleUpdateProfile(profiles *profile.Service, recorder *activity.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, _ := session.FromContext(r.Context())

		in, err := decodeProfileInput(r)
		if err != nil {
			writeFailure(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		result, err := profiles.SaveProfile(r.Context(), sess, in)
		if err != nil {
			recorder.Error(r.Context(), "Failed to update profile", activity.Fields{"error": err.Error()})
			writeError(w, r, err)
			return
		}

		recorder.Success(r.Context(), "Profile updated", activity.Fields{"contact_id": result.ContactID})
		writeJSON(w, http.StatusOK, envelope{
			"success": true,
			"message": "Profile updated successfully",
			"contact": result,
		})
	}
}

// decodeProfileInput accepts a JSON body or a regular form post.
func decodeProfileInput(r *http.Request) (profile.Input, error) {
	var in profile.Input
	r.Body = http.MaxBytesReader(nil, r.Body, maxFormBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		err := json.NewDecoder(r.Body).Decode(&in)
		if err == io.EOF {
			return in, nil
		}
		return in, err
	}

	if err := r.ParseForm(); err != nil {
		return in, err
	}
	in = profile.Input{
		FirstName:  r.PostForm.Get("firstname"),
		LastName:   r.PostForm.Get("lastname"),
		Email:      r.PostForm.Get("email"),
		Phone:      r.PostForm.Get("phone"),
		Address:    r.PostForm.Get("address"),
		City:       r.PostForm.Get("city"),
		State:      r.PostForm.Get("state"),
		PostalCode: r.PostForm.Get("postal_code"),
		Country:    r.PostForm.Get("country"),
	}
	return in, nil
}

// HandleLogout destroys the visitor session and tells the browser where to go next
func HandleLogout(sessions *session.Manager, redirect string, recorder *activity.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := sessions.Destroy(r.Context(), w, r); err != nil {
			writeError(w, r, err)
			return
		}
		if _, ok := session.FromContext(r.Context()); ok {
			recorder.Info(r.Context(), "Visitor logged out", nil)
		}
		writeJSON(w, http.StatusOK, envelope{"success": true, "redirect": redirect})
	}
}

// HandleSessionStatus reports whether the browser holds a valid session
func HandleSessionStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := session.FromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusOK, envelope{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, envelope{
			"authenticated": true,
			"email":         sess.Email,
			"display_name":  sess.DisplayName,
			"expires_at":    sess.ExpiresAt,
		})
	}
}
