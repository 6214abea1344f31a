package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"cnb.cool/zhiqiangwang/pkg/logx"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// ==================== 会话 API ====================

type createChatRequest struct {
	Name      string `json:"name" binding:"required"`
	KBID      string `json:"kb_id"`
	PersonaID *uint  `json:"persona_id"`
}

func (s *HTTPGinServer) handleChatCreate(c *gin.Context) {
	var req createChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, err.Error())
		return
	}

	if req.KBID != "" {
		if _, err := s.kbs.GetKnowledgeBase(req.KBID); err != nil {
			s.error(c, http.StatusBadRequest, "knowledge base not found")
			return
		}
	}

	chat, err := s.chats.CreateChat(username(c), req.Name, req.KBID, req.PersonaID)
	if err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, chat)
}

func (s *HTTPGinServer) handleChatList(c *gin.Context) {
	list, err := s.chats.ListChats(username(c))
	if err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, gin.H{
		"total": len(list),
		"chats": list,
	})
}

func (s *HTTPGinServer) handleChatGet(c *gin.Context) {
	id, err := chatID(c)
	if err != nil {
		s.error(c, http.StatusBadRequest, "invalid chat id")
		return
	}

	chat, err := s.chats.GetChat(id, username(c))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "chat not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, chat)
}

type renameChatRequest struct {
	Name string `json:"name" binding:"required"`
}

func (s *HTTPGinServer) handleChatRename(c *gin.Context) {
	id, err := chatID(c)
	if err != nil {
		s.error(c, http.StatusBadRequest, "invalid chat id")
		return
	}

	var req renameChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.chats.RenameChat(id, username(c), req.Name); err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "chat not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, gin.H{"renamed": true})
}

type setChatPersonaRequest struct {
	PersonaID *uint `json:"persona_id"`
}

func (s *HTTPGinServer) handleChatSetPersona(c *gin.Context) {
	id, err := chatID(c)
	if err != nil {
		s.error(c, http.StatusBadRequest, "invalid chat id")
		return
	}

	var req setChatPersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, err.Error())
		return
	}

	if req.PersonaID != nil {
		if _, err := s.personas.GetPersona(*req.PersonaID); err != nil {
			s.error(c, http.StatusBadRequest, "persona not found")
			return
		}
	}

	if err := s.chats.SetChatPersona(id, username(c), req.PersonaID); err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "chat not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, gin.H{"updated": true})
}

func (s *HTTPGinServer) handleChatDelete(c *gin.Context) {
	id, err := chatID(c)
	if err != nil {
		s.error(c, http.StatusBadRequest, "invalid chat id")
		return
	}

	if err := s.chats.DeleteChat(id, username(c)); err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "chat not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, gin.H{"deleted": true})
}

// ==================== 消息 API ====================

func (s *HTTPGinServer) handleMessageList(c *gin.Context) {
	id, err := chatID(c)
	if err != nil {
		s.error(c, http.StatusBadRequest, "invalid chat id")
		return
	}

	if _, err := s.chats.GetChat(id, username(c)); err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "chat not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	messages, err := s.chats.ListMessages(id)
	if err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, gin.H{
		"total":    len(messages),
		"messages": messages,
	})
}

// handleMessageClear 清空会话历史
func (s *HTTPGinServer) handleMessageClear(c *gin.Context) {
	id, err := chatID(c)
	if err != nil {
		s.error(c, http.StatusBadRequest, "invalid chat id")
		return
	}

	if _, err := s.chats.GetChat(id, username(c)); err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "chat not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.chats.ClearMessages(id); err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, gin.H{"cleared": true})
}

// handleChatContext 查看下一次提问会携带的上下文
func (s *HTTPGinServer) handleChatContext(c *gin.Context) {
	id, err := chatID(c)
	if err != nil {
		s.error(c, http.StatusBadRequest, "invalid chat id")
		return
	}

	chat, err := s.chats.GetChat(id, username(c))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "chat not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	info, err := s.dispatcher.PreviewContext(chat)
	if err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, info)
}

func (s *HTTPGinServer) handleMessageSources(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		s.error(c, http.StatusBadRequest, "invalid message id")
		return
	}

	list, err := s.chats.MessageSources(uint(id))
	if err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, gin.H{
		"total":   len(list),
		"sources": list,
	})
}

type createMessageRequest struct {
	Text   string `json:"text" binding:"required"`
	Stream bool   `json:"stream"`
}

// handleMessageCreate 提问并生成回答，按请求选择流式或一次性返回
func (s *HTTPGinServer) handleMessageCreate(c *gin.Context) {
	id, err := chatID(c)
	if err != nil {
		s.error(c, http.StatusBadRequest, "invalid chat id")
		return
	}

	var req createMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.error(c, http.StatusBadRequest, err.Error())
		return
	}

	chat, err := s.chats.GetChat(id, username(c))
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			s.error(c, http.StatusNotFound, "chat not found")
			return
		}
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	// 处理流式响应
	if req.Stream && s.config.Chat.Streaming.Enabled {
		// 设置 SSE 响应头
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("Transfer-Encoding", "chunked")

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			s.error(c, http.StatusInternalServerError, "Streaming not supported")
			return
		}

		events, err := s.dispatcher.GenerateAnswerStream(c.Request.Context(), chat, req.Text)
		if err != nil {
			s.error(c, http.StatusInternalServerError, err.Error())
			return
		}

		eventCounter := 0
		for event := range events {
			eventJSON, err := json.Marshal(event)
			if err != nil {
				logx.Error("Failed to marshal stream event: %v", err)
				continue
			}

			// 发送 SSE 数据
			fmt.Fprintf(c.Writer, "data: %s\n\n", string(eventJSON))
			flusher.Flush()
			eventCounter++
		}

		// 发送结束标记
		fmt.Fprintf(c.Writer, "data: [DONE]\n\n")
		flusher.Flush()

		logx.Info("Stream completed, chat %d, sent %d events", chat.ID, eventCounter)
		return
	}

	answer, err := s.dispatcher.GenerateAnswer(c.Request.Context(), chat, req.Text)
	if err != nil {
		s.error(c, http.StatusInternalServerError, err.Error())
		return
	}

	s.success(c, answer)
}

// chatID 解析路径中的会话 ID
func chatID(c *gin.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	return uint(id), err
}
