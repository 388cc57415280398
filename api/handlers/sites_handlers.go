package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/crypto/bcrypt"

	"hexascan/core/auth"
	"hexascan/core/store"
	"hexascan/core/utils"
)

// SitesHandler manages monitored sites and their escalation contacts.
type SitesHandler struct {
	sites  store.SitesStore
	logger *utils.Logger
}

func NewSitesHandler(sites store.SitesStore, logger *utils.Logger) *SitesHandler {
	return &SitesHandler{sites: sites, logger: logger}
}

type contactsPayload struct {
	Level1Name  string `json:"level1_name"`
	Level1Email string `json:"level1_email"`
	Level2Name  string `json:"level2_name"`
	Level2Email string `json:"level2_email"`
	Level3Name  string `json:"level3_name"`
	Level3Email string `json:"level3_email"`
}

// Create registers a site and mints its agent API key. The plaintext key is
// returned exactly once; only the bcrypt hash is stored.
func (h *SitesHandler) Create(w http.ResponseWriter, r *http.Request) {
	ident := auth.OrgFromContext(r.Context())
	var body struct {
		Name string `json:"name"`
		URL  string `json:"url"`
		contactsPayload
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.Name) == "" {
		http.Error(w, "sites.nameRequired", http.StatusBadRequest)
		return
	}
	secret, err := utils.RandString(24)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	site := &store.Site{
		OrganizationID: ident.OrganizationID,
		Name:           body.Name,
		URL:            body.URL,
		APIKeyHash:     string(hash),
		Level1Name:     body.Level1Name,
		Level1Email:    body.Level1Email,
		Level2Name:     body.Level2Name,
		Level2Email:    body.Level2Email,
		Level3Name:     body.Level3Name,
		Level3Email:    body.Level3Email,
	}
	if _, err := h.sites.CreateSite(r.Context(), site); err != nil {
		h.logger.Errorf("create site org=%d: %v", ident.OrganizationID, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"site":    site,
		"api_key": strconv.FormatInt(site.ID, 10) + "." + secret,
	})
}

func (h *SitesHandler) Get(w http.ResponseWriter, r *http.Request) {
	ident := auth.OrgFromContext(r.Context())
	site, ok := h.loadOrgSite(w, r, ident)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, site)
}

func (h *SitesHandler) UpdateContacts(w http.ResponseWriter, r *http.Request) {
	ident := auth.OrgFromContext(r.Context())
	site, ok := h.loadOrgSite(w, r, ident)
	if !ok {
		return
	}
	var body contactsPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	site.Level1Name, site.Level1Email = body.Level1Name, body.Level1Email
	site.Level2Name, site.Level2Email = body.Level2Name, body.Level2Email
	site.Level3Name, site.Level3Email = body.Level3Name, body.Level3Email
	if err := h.sites.UpdateSiteContacts(r.Context(), site); err != nil {
		h.logger.Errorf("update contacts site=%d: %v", site.ID, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, site)
}

// CreateTask hands a pending check execution to the site's agent. The task
// id is the agent's handle for submitting the result.
func (h *SitesHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	ident := auth.OrgFromContext(r.Context())
	site, ok := h.loadOrgSite(w, r, ident)
	if !ok {
		return
	}
	var body struct {
		CheckID     string `json:"check_id"`
		CheckName   string `json:"check_name"`
		MonitorType string `json:"monitor_type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(body.CheckID) == "" {
		http.Error(w, "tasks.checkIdRequired", http.StatusBadRequest)
		return
	}
	result := &store.CheckResult{
		SiteID:      site.ID,
		TaskID:      uuid.Must(uuid.NewV4()).String(),
		CheckID:     body.CheckID,
		CheckName:   body.CheckName,
		MonitorType: body.MonitorType,
	}
	if _, err := h.sites.CreatePendingResult(r.Context(), result); err != nil {
		h.logger.Errorf("create task site=%d check=%s: %v", site.ID, body.CheckID, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"task_id": result.TaskID})
}

func (h *SitesHandler) loadOrgSite(w http.ResponseWriter, r *http.Request, ident *auth.OrgIdentity) (*store.Site, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(urlParam(r, "id")), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "bad request", http.StatusBadRequest)
		return nil, false
	}
	site, err := h.sites.GetSite(r.Context(), id)
	if err != nil {
		h.logger.Errorf("get site %d: %v", id, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return nil, false
	}
	if site == nil || site.OrganizationID != ident.OrganizationID {
		http.Error(w, "sites.notFound", http.StatusNotFound)
		return nil, false
	}
	return site, true
}
