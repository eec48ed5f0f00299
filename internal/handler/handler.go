package handler

import (
	"bytes"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"studio/internal/attendance"
	"studio/internal/auth"
	"studio/internal/exports"
	"studio/internal/metrics"
)

// Handler serves the front desk API.
type Handler struct {
	svc     *attendance.Service
	issuer  *auth.Issuer
	staff   auth.Staff
	exports *exports.Runner // nil when async exports are disabled
}

func New(svc *attendance.Service, issuer *auth.Issuer, staff auth.Staff, runner *exports.Runner) *Handler {
	return &Handler{svc: svc, issuer: issuer, staff: staff, exports: runner}
}

// Mount registers every /v1 route on r.
func (h *Handler) Mount(r gin.IRouter) {
	r.POST("/v1/auth/login", h.Login)
	r.POST("/v1/auth/refresh", h.Refresh)

	v1 := r.Group("/v1", auth.StaffAuth(h.issuer))
	v1.GET("/students", h.ListStudents)
	v1.POST("/students", h.CreateStudent)
	v1.GET("/students/:id", h.GetStudent)
	v1.PUT("/students/:id", h.UpdateStudent)
	v1.POST("/students/:id/checkin", h.CheckIn)
	v1.GET("/students/:id/attendance", h.History)

	v1.GET("/classes", h.ListClasses)
	v1.POST("/classes", h.CreateClass)

	v1.GET("/attendance/export.csv", h.ExportCSV)
	v1.POST("/exports", h.CreateExport)
	v1.GET("/exports/:id", h.GetExport)
	v1.GET("/exports/:id/download", h.DownloadExport)
}

// ---------- Auth ----------

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.staff.Authenticate(req.Username, req.Password); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	h.writeTokens(c, req.Username, auth.RoleStaff)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := h.issuer.Parse(req.RefreshToken, auth.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	h.writeTokens(c, claims.Subject, claims.Role)
}

func (h *Handler) writeTokens(c *gin.Context, subject, role string) {
	tokens, err := h.issuer.Issue(subject, role)
	if err != nil {
		log.Printf("token issue failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

// ---------- Students ----------

type studentRequest struct {
	Name             string `json:"name"`
	Phone            string `json:"phone"`
	MembershipNumber string `json:"membership_number"`
	ClassesLeft      *int   `json:"classes_left" binding:"required"`
}

func (r studentRequest) student() attendance.Student {
	return attendance.Student{
		Name:             r.Name,
		Phone:            r.Phone,
		MembershipNumber: r.MembershipNumber,
		ClassesLeft:      *r.ClassesLeft,
	}
}

func (h *Handler) ListStudents(c *gin.Context) {
	students, err := h.svc.ListStudents(c.Request.Context(), c.Query("query"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"students": students})
}

func (h *Handler) CreateStudent(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st := req.student()
	if err := h.svc.CreateStudent(c.Request.Context(), &st); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, st)
}

func (h *Handler) GetStudent(c *gin.Context) {
	st, err := h.svc.GetStudent(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *Handler) UpdateStudent(c *gin.Context) {
	var req studentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st := req.student()
	st.ID = c.Param("id")
	updated, err := h.svc.UpdateStudent(c.Request.Context(), st)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

// CheckIn consumes one class from the student's balance and logs attendance
// for the session running now.
func (h *Handler) CheckIn(c *gin.Context) {
	res, err := h.svc.CheckIn(c.Request.Context(), c.Param("id"))
	if err != nil {
		metrics.CheckIns.WithLabelValues("error").Inc()
		writeError(c, err)
		return
	}
	metrics.CheckIns.WithLabelValues(string(res.Outcome)).Inc()
	if res.ClassCreated {
		metrics.ClassesCreated.Inc()
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome":       res.Outcome,
		"classes_left":  res.Student.ClassesLeft,
		"student":       res.Student,
		"class":         res.Class,
		"class_created": res.ClassCreated,
		"record":        res.Record,
	})
}

func (h *Handler) History(c *gin.Context) {
	st, entries, err := h.svc.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if entries == nil {
		entries = []attendance.HistoryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"student": st, "attendance": entries})
}

// ---------- Classes ----------

type classRequest struct {
	Name        string `json:"name"`
	Style       string `json:"style"`
	Level       string `json:"level"`
	Description string `json:"description"`
	Schedule    string `json:"schedule"`
	MaxStudents int    `json:"max_students"`
}

func (h *Handler) ListClasses(c *gin.Context) {
	classes, err := h.svc.ListClasses(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"classes": classes})
}

func (h *Handler) CreateClass(c *gin.Context) {
	var req classRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cls := attendance.ClassSession{
		Name:        req.Name,
		Style:       attendance.Style(req.Style),
		Level:       attendance.Level(req.Level),
		Description: req.Description,
		Schedule:    req.Schedule,
		MaxStudents: req.MaxStudents,
	}
	if err := h.svc.CreateClass(c.Request.Context(), &cls); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, cls)
}

// ---------- Export ----------

const csvDisposition = `attachment; filename="attendance.csv"`

func (h *Handler) ExportCSV(c *gin.Context) {
	var buf bytes.Buffer
	if _, err := h.svc.ExportCSV(c.Request.Context(), &buf); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", csvDisposition)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

func (h *Handler) CreateExport(c *gin.Context) {
	if h.exports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "exports not configured"})
		return
	}
	job, err := h.exports.Enqueue(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

func (h *Handler) GetExport(c *gin.Context) {
	if h.exports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "exports not configured"})
		return
	}
	job, err := h.exports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// DownloadExport serves a finished export. Uploaded exports redirect to
// their Cloudinary URL.
func (h *Handler) DownloadExport(c *gin.Context) {
	if h.exports == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "exports not configured"})
		return
	}
	job, err := h.exports.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	switch {
	case job.Status != exports.StatusDone:
		c.JSON(http.StatusConflict, gin.H{"error": "export is " + string(job.Status)})
	case job.URL != "":
		c.Redirect(http.StatusFound, job.URL)
	default:
		c.Header("Content-Disposition", csvDisposition)
		c.Data(http.StatusOK, "text/csv; charset=utf-8", job.Data)
	}
}

// writeError maps service errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, attendance.ErrNotFound), errors.Is(err, exports.ErrJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, attendance.ErrConstraintViolation):
		c.JSON(http.StatusConflict, gin.H{"error": "phone or membership number already exists"})
	case errors.Is(err, attendance.ErrInvalid):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
