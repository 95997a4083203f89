//go:build ignore

// smoke-auth.go exercises a running tollgate instance end to end:
// register, login, session, check-email, and the password-setup flow.
//
// Run with: go run scripts/smoke-auth.go [base-url]
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

var client = &http.Client{Timeout: 10 * time.Second}

func main() {
	base := "http://localhost:8080"
	if len(os.Args) > 1 {
		base = os.Args[1]
	}

	email := fmt.Sprintf("smoke-%d@example.com", time.Now().UnixNano())
	pass := "smoke-password-1"

	fmt.Printf("target: %s\n", base)

	// Fresh email should be available.
	res := call("POST", base+"/api/v1/auth/check-email", "", map[string]string{"email": email})
	expect(res["available"] == true, "check-email: expected available=true, got %v", res["available"])

	// Register and capture the token.
	res = call("POST", base+"/api/v1/auth/register", "", map[string]string{
		"name": "Smoke Test", "email": email, "password": pass,
	})
	token, _ := res["token"].(string)
	expect(token != "", "register: no token in response: %v", res)

	// The email is now taken.
	res = call("POST", base+"/api/v1/auth/check-email", "", map[string]string{"email": email})
	expect(res["available"] == false, "check-email: expected available=false after register")

	// Session reflects the settled account.
	res = call("GET", base+"/api/v1/session", token, nil)
	expect(res["authenticated"] == true, "session: not authenticated")
	expect(res["needs_password_setup"] == false, "session: unexpected provisioning flag")

	// The gated resource is reachable for a settled account.
	res = call("GET", base+"/api/v1/me", token, nil)
	expect(res["account"] != nil, "me: no account in response: %v", res)

	// Re-login with the same credentials.
	res = call("POST", base+"/api/v1/auth/login", "", map[string]string{
		"email": email, "password": pass,
	})
	expect(res["token"] != nil, "login: no token: %v", res)

	// Setting a new password works and keeps the session valid.
	res = call("POST", base+"/api/v1/auth/password", token, map[string]string{
		"password": "smoke-password-2",
	})
	expect(res["account"] != nil, "password: no account: %v", res)

	res = call("POST", base+"/api/v1/auth/login", "", map[string]string{
		"email": email, "password": "smoke-password-2",
	})
	expect(res["token"] != nil, "login with new password failed: %v", res)

	fmt.Println("OK")
}

func call(method, url, token string, body any) map[string]any {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			fail("marshal %s %s: %v", method, url, err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		fail("build %s %s: %v", method, url, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := client.Do(req)
	if err != nil {
		fail("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		fail("%s %s: %d: %s", method, url, resp.StatusCode, data)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		fail("%s %s: bad JSON: %s", method, url, data)
	}
	return out
}

func expect(ok bool, format string, args ...any) {
	if !ok {
		fail(format, args...)
	}
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
