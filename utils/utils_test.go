package utils

import (
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRecTimeStamp(t *testing.T) {
	var ts Timestamp
	var got []uint32
	for _, v := range []uint32{0, 40, 30, 1000, 0, 500, 1000, 0} {
		got = append(got, ts.RecTimeStamp(v))
	}
	want := []uint32{0, 40, 30, 1000, 1000, 1500, 2000, 2000}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestCors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	e := gin.New()
	Cors(e)
	e.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "http://player.example")
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}
