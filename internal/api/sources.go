package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/reportmailer/internal/dialect"
	"github.com/reportmailer/internal/models"
)

func (s *Server) sqlParameters(c *gin.Context) {
	var req struct {
		SQL string `json:"sql"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"parameters": dialect.ExtractParameters(req.SQL)})
}

func (s *Server) createConnection(c *gin.Context) {
	var conn models.DatabaseConnection
	if err := c.ShouldBindJSON(&conn); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if conn.Name == "" || conn.Host == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and host are required"})
		return
	}
	if !conn.Backend.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "backend must be one of mysql, postgres, oracle"})
		return
	}
	conn.ID = 0

	if err := s.store.CreateConnection(c.Request.Context(), &conn); err != nil {
		s.fail(c, err)
		return
	}
	conn.Password = ""
	c.JSON(http.StatusCreated, conn)
}

func (s *Server) testConnection(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	conn, err := s.store.GetConnection(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}

	if err := s.tester.TestConnection(c.Request.Context(), *conn); err != nil {
		s.logger.Warn("connection test failed", "connection_id", id, "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"ok": false, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) createQuery(c *gin.Context) {
	var q models.SqlQuery
	if err := c.ShouldBindJSON(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if q.Name == "" || q.SQLText == "" || q.DatabaseID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, sql_text and database_id are required"})
		return
	}
	q.ID = 0
	q.Database = models.DatabaseConnection{}

	if err := s.store.CreateQuery(c.Request.Context(), &q); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, q)
}

func (s *Server) deleteQuery(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := s.store.DeleteQuery(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
