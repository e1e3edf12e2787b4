package controllers_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/ashishlukka1/skill-caravan-sub000/config"
	"github.com/ashishlukka1/skill-caravan-sub000/models"
	"github.com/ashishlukka1/skill-caravan-sub000/routes"
	"github.com/ashishlukka1/skill-caravan-sub000/utils"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

var (
	app    *fiber.App
	db     *gorm.DB
	cfg    *config.Config
	issuer *stubIssuer
)

// stubIssuer stands in for the external certificate renderer.
type stubIssuer struct {
	calls int
	fail  bool
}

func (s *stubIssuer) Issue(req *utils.CertificateRequest) (*utils.IssuedCertificate, error) {
	s.calls++
	if s.fail {
		return nil, errors.New("renderer unavailable")
	}
	id := fmt.Sprintf("cert-%d", s.calls)
	return &utils.IssuedCertificate{
		CertificateID:  id,
		CertificateURL: "https://certs.example.com/" + id + ".png",
		StorageURL:     "https://storage.example.com/" + id + ".png",
		IssuedAt:       time.Now(),
	}, nil
}

func TestMain(m *testing.M) {
	cfg = &config.Config{
		JWTSecret:          "testsecret",
		ServerPort:         "8080",
		ViolationThreshold: 3,
	}

	var err error
	db, err = gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		panic(err)
	}
	if err := utils.Migrate(db); err != nil {
		panic(err)
	}

	issuer = &stubIssuer{}
	app = fiber.New()
	routes.SetupRoutes(app, db, cfg, issuer)

	os.Exit(m.Run())
}

func createUser(t *testing.T, name, role string) (models.User, string) {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	user := models.User{
		Name:         name,
		Email:        name + "@example.com",
		PasswordHash: string(hash),
		Role:         role,
	}
	if err := db.Create(&user).Error; err != nil {
		t.Fatal(err)
	}

	token, err := utils.GenerateJWTToken(user.ID, cfg)
	if err != nil {
		t.Fatal(err)
	}
	return user, token
}

type setDef struct {
	number int
	marks  []int // one question per entry; correct answer is always option 0
}

type unitDef struct {
	lessons int
	sets    []setDef
}

// createCourse seeds a published course with the given shape directly in the
// database, plus a certificate template so issuance can fire.
func createCourse(t *testing.T, title string, units []unitDef) models.Course {
	t.Helper()

	course := models.Course{Title: title, Status: models.CoursePublished}
	if err := db.Create(&course).Error; err != nil {
		t.Fatal(err)
	}

	template := models.CertificateTemplate{
		CourseID: course.ID,
		ImageURL: "https://storage.example.com/templates/default.png",
	}
	if err := db.Create(&template).Error; err != nil {
		t.Fatal(err)
	}

	for ui, us := range units {
		unit := models.Unit{CourseID: course.ID, UnitIndex: ui, Title: fmt.Sprintf("Unit %d", ui+1)}
		if err := db.Create(&unit).Error; err != nil {
			t.Fatal(err)
		}
		for li := 0; li < us.lessons; li++ {
			lesson := models.Lesson{UnitID: unit.ID, LessonIndex: li, Title: fmt.Sprintf("Lesson %d", li+1)}
			if err := db.Create(&lesson).Error; err != nil {
				t.Fatal(err)
			}
		}
		for _, ss := range us.sets {
			set := models.AssignmentSet{UnitID: unit.ID, SetNumber: ss.number, Title: fmt.Sprintf("Set %d", ss.number)}
			if err := db.Create(&set).Error; err != nil {
				t.Fatal(err)
			}
			for qi, marks := range ss.marks {
				question := models.Question{
					SetID:         set.ID,
					SequenceOrder: qi,
					Text:          fmt.Sprintf("Question %d", qi+1),
					Options:       `["a","b","c","d"]`,
					CorrectAnswer: 0,
					Marks:         marks,
				}
				if err := db.Create(&question).Error; err != nil {
					t.Fatal(err)
				}
			}
		}
	}

	return course
}

func doRequest(t *testing.T, method, path, token string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewBuffer(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	return resp, result
}

// doListRequest is doRequest for endpoints that return a bare JSON array.
func doListRequest(t *testing.T, path, token string) []map[string]interface{} {
	t.Helper()

	req := httptest.NewRequest("GET", path, nil)
	if token != "" {
		req.Header.Set("Authorization", token)
	}

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("list request failed with status %d", resp.StatusCode)
	}

	var entries []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	return entries
}

func enroll(t *testing.T, token string, courseID uint) {
	t.Helper()
	resp, _ := doRequest(t, "POST", fmt.Sprintf("/api/courses/%d/enroll", courseID), token, nil)
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("enroll failed with status %d", resp.StatusCode)
	}
}

func enrollmentProgress(result map[string]interface{}) int {
	enrollment, ok := result["enrollment"].(map[string]interface{})
	if !ok {
		return -1
	}
	progress, ok := enrollment["progress"].(float64)
	if !ok {
		return -1
	}
	return int(progress)
}
