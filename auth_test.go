package main

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	. "github.com/smartystreets/goconvey/convey"
)

func TestJWTGeneration(t *testing.T) {
	Convey("Tokens carry the subject and issuer", t, func() {
		setupEnv(t)

		ts, err := newJWT("hello test")
		So(err, ShouldBeNil)

		claims := &jwt.StandardClaims{}
		token, err := jwt.ParseWithClaims(ts, claims, func(*jwt.Token) (interface{}, error) {
			return []byte("test-secret"), nil
		})
		So(err, ShouldBeNil)
		So(token.Valid, ShouldBeTrue)
		So(claims.Subject, ShouldEqual, "hello test")
		So(claims.Issuer, ShouldEqual, "TEST")
		So(claims.ExpiresAt-claims.IssuedAt, ShouldEqual, int64(JWT_LIFESPAN/time.Second))
	})
}

func TestLogin(t *testing.T) {
	Convey("Given a stored operator", t, func() {
		setupEnv(t)
		createOperator("login@test.case", "testing123")

		Convey("Valid request works as expected", func() {
			rr := serve(http.HandlerFunc(Login), jsonRequest("POST", "/api/login", LoginPayload{
				Email:    "login@test.case",
				Password: "testing123",
			}))

			So(rr.Code, ShouldEqual, http.StatusOK)
			var payload JWTPayload
			So(json.Unmarshal(rr.Body.Bytes(), &payload), ShouldBeNil)
			So(payload.SignedToken, ShouldNotBeEmpty)
		})

		Convey("Incorrect email provides 404", func() {
			rr := serve(http.HandlerFunc(Login), jsonRequest("POST", "/api/login", LoginPayload{
				Email:    "login-no@test.case",
				Password: "testing123",
			}))
			So(rr.Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("Incorrect password provides 403", func() {
			rr := serve(http.HandlerFunc(Login), jsonRequest("POST", "/api/login", LoginPayload{
				Email:    "login@test.case",
				Password: "testing12",
			}))
			So(rr.Code, ShouldEqual, http.StatusForbidden)
			So(rr.Body.String(), ShouldContainSubstring, "Invalid password")
		})

		Convey("Missing email provides 400", func() {
			rr := serve(http.HandlerFunc(Login), jsonRequest("POST", "/api/login", LoginPayload{Password: "x"}))
			So(rr.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("A broken password hash renders a server error", func() {
			op, err := ENV.Store.OperatorByEmail("login@test.case")
			So(err, ShouldBeNil)
			op.Password = "I DON'T WORK"
			So(ENV.Store.SaveOperator(op), ShouldBeNil)

			rr := serve(http.HandlerFunc(Login), jsonRequest("POST", "/api/login", LoginPayload{
				Email:    "login@test.case",
				Password: "testing123",
			}))
			So(rr.Code, ShouldEqual, http.StatusInternalServerError)
		})
	})
}

func TestValidateJWT(t *testing.T) {
	Convey("Given a protected handler", t, func() {
		setupEnv(t)
		var subject string
		h := ValidateJWT(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := r.Context().Value(jwtKey).(*jwt.Token)
			subject = token.Claims.(*jwt.StandardClaims).Subject
		}))
		ts, err := newJWT("operator@test.case")
		So(err, ShouldBeNil)

		Convey("A missing token is unauthorized", func() {
			rr := serve(h, jsonRequest("GET", "/api/status", nil))
			So(rr.Code, ShouldEqual, http.StatusUnauthorized)
			So(rr.Body.String(), ShouldContainSubstring, JWTEmpty.Error())
		})

		Convey("Bearer tokens are accepted", func() {
			req := jsonRequest("GET", "/api/status", nil)
			req.Header.Set("Authorization", "Bearer "+ts)
			So(serve(h, req).Code, ShouldEqual, http.StatusOK)
			So(subject, ShouldEqual, "operator@test.case")
		})

		Convey("Query tokens are accepted", func() {
			So(serve(h, jsonRequest("GET", "/ws/telemetry?jwt="+ts, nil)).Code, ShouldEqual, http.StatusOK)
		})

		Convey("Cookie tokens are accepted", func() {
			req := jsonRequest("GET", "/api/status", nil)
			req.AddCookie(&http.Cookie{Name: "jwt", Value: ts})
			So(serve(h, req).Code, ShouldEqual, http.StatusOK)
		})

		Convey("Tokens signed with another secret are rejected", func() {
			ENV.JWT_SECRET = "other"
			req := jsonRequest("GET", "/api/status", nil)
			req.Header.Set("Authorization", "Bearer "+ts)
			rr := serve(h, req)
			So(rr.Code, ShouldEqual, http.StatusUnauthorized)
			So(rr.Body.String(), ShouldContainSubstring, "Invalid token")
		})

		Convey("Expired tokens say so", func() {
			past := time.Now().Add(-2 * time.Hour)
			token := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.StandardClaims{
				Subject:   "operator@test.case",
				IssuedAt:  past.Unix(),
				ExpiresAt: past.Add(time.Minute).Unix(),
			})
			expired, err := token.SignedString([]byte(ENV.JWT_SECRET))
			So(err, ShouldBeNil)

			req := jsonRequest("GET", "/api/status", nil)
			req.Header.Set("Authorization", "Bearer "+expired)
			rr := serve(h, req)
			So(rr.Code, ShouldEqual, http.StatusUnauthorized)
			So(rr.Body.String(), ShouldContainSubstring, "expired")
		})

		Convey("Refresh issues a new token for the same subject", func() {
			req := jsonRequest("GET", "/api/refresh_token", nil)
			req.Header.Set("Authorization", "Bearer "+ts)
			rr := serve(ValidateJWT(http.HandlerFunc(JWTRefresh)), req)
			So(rr.Code, ShouldEqual, http.StatusOK)

			var payload JWTPayload
			So(json.Unmarshal(rr.Body.Bytes(), &payload), ShouldBeNil)
			claims := &jwt.StandardClaims{}
			_, err := jwt.ParseWithClaims(payload.SignedToken, claims, func(*jwt.Token) (interface{}, error) {
				return []byte(ENV.JWT_SECRET), nil
			})
			So(err, ShouldBeNil)
			So(claims.Subject, ShouldEqual, "operator@test.case")
		})
	})
}
