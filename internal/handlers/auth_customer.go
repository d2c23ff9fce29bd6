package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/cart"
	"storefront/internal/database"
	"storefront/internal/middleware"
	"storefront/internal/models"
)

type UserStore interface {
	InsertUser(ctx context.Context, u models.User) error
	UserByEmail(ctx context.Context, email string) (models.User, error)
	User(ctx context.Context, id string) (models.User, error)
}

type RegisterUserRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	Name     string `json:"name" binding:"required"`
	Phone    string `json:"phone"`
}

type LoginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func userResponse(u models.User) gin.H {
	return gin.H{
		"id":    u.ID,
		"name":  u.Name,
		"email": u.Email,
		"role":  u.Role,
	}
}

func Register(users UserStore, jwtSecret string, accessTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "AUTH")

		var req RegisterUserRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondValidationError(c, err)
			return
		}

		email := strings.ToLower(strings.TrimSpace(req.Email))
		name := strings.TrimSpace(req.Name)
		if name == "" || strings.TrimSpace(req.Password) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "email, password and name are required"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			log.Println("[AUTH] [ERROR] user register password hash failed:", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "password hash failed"})
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		now := time.Now().UTC()
		user := models.User{
			ID:           uuid.NewString(),
			Email:        email,
			PasswordHash: string(hash),
			Name:         name,
			Phone:        strings.TrimSpace(req.Phone),
			Role:         models.RoleUser,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := users.InsertUser(ctx, user); err != nil {
			if errors.Is(err, database.ErrConflict) {
				log.Println("[AUTH] [ERROR] user register email exists:", email)
				c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
				return
			}
			log.Println("[AUTH] [ERROR] user register insert failed:", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
			return
		}

		accessToken, err := issueAccessToken(user, jwtSecret, accessTTL)
		if err != nil {
			log.Println("[AUTH] [ERROR] user register token generation failed:", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
			return
		}

		log.Println("[AUTH] [INFO] user registered:", email)
		c.JSON(http.StatusCreated, gin.H{
			"accessToken": accessToken,
			"expiresIn":   int64(accessTTL.Seconds()),
			"user":        userResponse(user),
		})
	}
}

// Login authenticates a shopper. When the request still carries an
// anonymous cart session, that cart is folded into the identity's cart.
func Login(users UserStore, carts *cart.Service, jwtSecret string, accessTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "AUTH")

		user, ok := authenticate(c, users)
		if !ok {
			return
		}

		accessToken, err := issueAccessToken(user, jwtSecret, accessTTL)
		if err != nil {
			log.Println("[AUTH] [ERROR] login token generation failed:", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
			return
		}

		merged := 0
		if token := strings.TrimSpace(c.GetHeader(middleware.CartSessionHeader)); token != "" {
			ctx, cancel := requestContext(c)
			defer cancel()
			// A failed merge leaves the anonymous items in place for a retry
			// through /cart/consolidate; the login itself stands.
			merged, err = carts.ConsolidateOnLogin(ctx, user.ID, token)
			if err != nil {
				log.Printf("[AUTH] [ERROR] cart consolidation for %s stopped after %d items: %v", user.ID, merged, err)
			}
		}

		log.Println("[AUTH] [INFO] user login succeeded:", user.Email)
		c.JSON(http.StatusOK, gin.H{
			"accessToken":     accessToken,
			"expiresIn":       int64(accessTTL.Seconds()),
			"user":            userResponse(user),
			"cartItemsMerged": merged,
		})
	}
}

func AdminLogin(users UserStore, jwtSecret string, accessTTL time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "AUTH")

		user, ok := authenticate(c, users)
		if !ok {
			return
		}
		if !user.IsStaff() {
			log.Println("[AUTH] [ERROR] admin login refused for non-staff account:", user.Email)
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}

		signed, err := issueAccessToken(user, jwtSecret, accessTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token generation failed"})
			return
		}

		log.Println("[AUTH] [INFO] staff login succeeded:", user.Email)
		c.JSON(http.StatusOK, gin.H{
			"accessToken": signed,
			"expiresIn":   int64(accessTTL.Seconds()),
			"user":        userResponse(user),
		})
	}
}

func GetMe(users UserStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer handlePanic(c, "AUTH")

		userID, ok := identityFrom(c, "AUTH")
		if !ok {
			return
		}

		ctx, cancel := requestContext(c)
		defer cancel()

		user, err := users.User(ctx, userID)
		if err != nil {
			log.Println("[AUTH] [ERROR] get me failed:", err)
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"id":        user.ID,
			"email":     user.Email,
			"name":      user.Name,
			"phone":     user.Phone,
			"role":      user.Role,
			"createdAt": user.CreatedAt,
			"updatedAt": user.UpdatedAt,
		})
	}
}

func authenticate(c *gin.Context, users UserStore) (models.User, bool) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondValidationError(c, err)
		return models.User{}, false
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || strings.TrimSpace(req.Password) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return models.User{}, false
	}

	ctx, cancel := requestContext(c)
	defer cancel()

	user, err := users.UserByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			log.Println("[AUTH] [ERROR] login db error:", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
			return models.User{}, false
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return models.User{}, false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		log.Println("[AUTH] [ERROR] login invalid credentials for user")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return models.User{}, false
	}
	return user, true
}

func issueAccessToken(user models.User, secret string, accessTTL time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"userId": user.ID,
		"email":  user.Email,
		"role":   user.Role,
		"exp":    time.Now().Add(accessTTL).Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}
