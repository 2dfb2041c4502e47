package dashboard

import (
	"net/http"
	"slices"
	"time"

	"github.com/gfhdhytghd/oqqwall/internal/control"
	"github.com/gfhdhytghd/oqqwall/internal/dispatch"
	"github.com/gfhdhytghd/oqqwall/internal/logx"
	"github.com/gin-gonic/gin"
)

// groupSummary is one entry of GET /groups.
type groupSummary struct {
	Name      string     `json:"name"`
	Staged    int        `json:"staged"`
	NextFlush *time.Time `json:"next_flush,omitempty"`
}

// stagedRow is one entry of GET /groups/:name/staged.
type stagedRow struct {
	Tag      int64  `json:"tag"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Comment  string `json:"comment,omitempty"`
	NeedPriv bool   `json:"needpriv"`
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", handleHealth())
	router.GET("/groups", s.handleGroups())
	router.GET("/groups/:name/staged", s.handleStaged())
	router.POST("/groups/:name/flush", s.handleFlush())
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func (s *Server) handleGroups() gin.HandlerFunc {
	return func(c *gin.Context) {
		b, sched := s.current()
		out := []groupSummary{}
		for _, name := range b.GroupNames() {
			rows, err := b.Staged(c.Request.Context(), name)
			if err != nil {
				s.log.Warn("list staged failed", logx.String("group", name), logx.Err(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			gs := groupSummary{Name: name, Staged: len(rows)}
			if sched != nil {
				if next, ok := sched.Next(name); ok && !next.IsZero() {
					gs.NextFlush = &next
				}
			}
			out = append(out, gs)
		}
		c.JSON(http.StatusOK, out)
	}
}

func (s *Server) handleStaged() gin.HandlerFunc {
	return func(c *gin.Context) {
		b, _ := s.current()
		name := c.Param("name")
		if !slices.Contains(b.GroupNames(), name) {
			c.JSON(http.StatusNotFound, gin.H{"error": dispatch.ErrGroupNotFound.Error()})
			return
		}
		rows, err := b.Staged(c.Request.Context(), name)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]stagedRow, 0, len(rows))
		for _, r := range rows {
			out = append(out, stagedRow{
				Tag:      r.Tag,
				Sender:   r.SenderID,
				Receiver: r.ReceiverID,
				Comment:  r.CommentText(),
				NeedPriv: r.NeedPriv(),
			})
		}
		c.JSON(http.StatusOK, out)
	}
}

// handleFlush runs a synchronous flush and answers with the control
// listener's reply word.
func (s *Server) handleFlush() gin.HandlerFunc {
	return func(c *gin.Context) {
		b, _ := s.current()
		name := c.Param("name")
		reply := s.listener.Run(c.Request.Context(), name, dispatch.TriggerCommand)

		status := http.StatusOK
		switch {
		case !slices.Contains(b.GroupNames(), name):
			status = http.StatusNotFound
		case reply == control.ReplyFailed:
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"group": name, "reply": reply})
	}
}
