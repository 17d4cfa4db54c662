package controller

import (
	"encoding/csv"
	"errors"
	"log"
	"strconv"
	"time"

	"courier/models"
	"courier/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

type LeadController struct {
	DB     *gorm.DB
	Logger *log.Logger
}

func NewLeadController(db *gorm.DB, logger *log.Logger) *LeadController {
	return &LeadController{
		DB:     db,
		Logger: logger,
	}
}

// GetLeads returns a paginated list of leads with filters
func (lc *LeadController) GetLeads(c *fiber.Ctx) error {
	// Pagination
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit > 100 {
		limit = 100
	}
	offset := (page - 1) * limit

	query := lc.DB.Model(&models.Lead{})
	if source := c.Query("source"); source != "" {
		query = query.Where("source = ?", source)
	}
	if funnel := c.Query("funnel"); funnel != "" {
		query = query.Where("funnel = ?", funnel)
	}
	if segment := c.Query("segment"); segment != "" {
		query = query.Where("segment = ?", segment)
	}
	if search := c.Query("search"); search != "" {
		query = query.Where("email LIKE ?", "%"+search+"%")
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to count leads", err)
	}

	var leads []models.Lead
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&leads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch leads", err)
	}

	return c.JSON(utils.PaginatedResponse{
		Data:  leads,
		Total: total,
		Page:  page,
		Limit: limit,
	})
}

// GetLead returns a single lead with its subscriptions
func (lc *LeadController) GetLead(c *fiber.Ctx) error {
	id := utils.ParseUint(c.Params("id"))

	var lead models.Lead
	if err := lc.DB.Preload("Subscriptions").First(&lead, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.ErrorResponse(c, fiber.StatusNotFound, "Lead not found", nil)
		}
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch lead", err)
	}

	return c.JSON(utils.SuccessResponse(lead))
}

// ExportLeads streams all leads as CSV, honoring the same filters as GetLeads
func (lc *LeadController) ExportLeads(c *fiber.Ctx) error {
	query := lc.DB.Model(&models.Lead{})
	if source := c.Query("source"); source != "" {
		query = query.Where("source = ?", source)
	}
	if funnel := c.Query("funnel"); funnel != "" {
		query = query.Where("funnel = ?", funnel)
	}
	if segment := c.Query("segment"); segment != "" {
		query = query.Where("segment = ?", segment)
	}

	var leads []models.Lead
	if err := query.Order("created_at").Find(&leads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to fetch leads", err)
	}

	c.Set("Content-Type", "text/csv")
	c.Set("Content-Disposition", `attachment; filename="leads_`+time.Now().Format("2006-01-02")+`.csv"`)

	writer := csv.NewWriter(c.Response().BodyWriter())
	defer writer.Flush()

	if err := writer.Write([]string{"email", "name", "source", "funnel", "segment", "tags", "created_at"}); err != nil {
		return err
	}

	deref := func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	}
	for _, lead := range leads {
		record := []string{
			lead.Email,
			deref(lead.Name),
			deref(lead.Source),
			deref(lead.Funnel),
			deref(lead.Segment),
			deref(lead.Tags),
			lead.CreatedAt.Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	lc.Logger.Printf("Exported %d leads", len(leads))
	return nil
}

type statsBucket struct {
	Value string `json:"value"`
	Count int64  `json:"count"`
}

// GetStats returns capture totals and breakdowns
func (lc *LeadController) GetStats(c *fiber.Ctx) error {
	var totalLeads int64
	if err := lc.DB.Model(&models.Lead{}).Count(&totalLeads).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute stats", err)
	}

	var last7Days int64
	weekAgo := time.Now().AddDate(0, 0, -7)
	if err := lc.DB.Model(&models.Lead{}).Where("created_at >= ?", weekAgo).Count(&last7Days).Error; err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute stats", err)
	}

	bySource, err := lc.groupLeads("source")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute stats", err)
	}
	byFunnel, err := lc.groupLeads("funnel")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute stats", err)
	}
	bySegment, err := lc.groupLeads("segment")
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute stats", err)
	}

	type listCount struct {
		ListID string `json:"list_id"`
		Name   string `json:"name"`
		Slug   string `json:"slug"`
		Count  int64  `json:"count"`
	}
	var byList []listCount
	err = lc.DB.Model(&models.Subscription{}).
		Select("subscriptions.list_id, lists.name, lists.slug, COUNT(*) as count").
		Joins("JOIN lists ON lists.id = subscriptions.list_id").
		Where("subscriptions.status = ?", models.SubscriptionActive).
		Group("subscriptions.list_id, lists.name, lists.slug").
		Scan(&byList).Error
	if err != nil {
		return utils.ErrorResponse(c, fiber.StatusInternalServerError, "Failed to compute stats", err)
	}

	return c.JSON(utils.SuccessResponse(fiber.Map{
		"total_leads": totalLeads,
		"last_7_days": last7Days,
		"by_source":   bySource,
		"by_funnel":   byFunnel,
		"by_segment":  bySegment,
		"by_list":     byList,
	}))
}

func (lc *LeadController) groupLeads(column string) ([]statsBucket, error) {
	var buckets []statsBucket
	err := lc.DB.Model(&models.Lead{}).
		Select(column + " as value, COUNT(*) as count").
		Where(column + " IS NOT NULL").
		Group(column).
		Order("count DESC").
		Scan(&buckets).Error
	return buckets, err
}
