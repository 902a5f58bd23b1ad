// Package middleware gin 中间件: 认证, 限流, 指标, 跨域
package middleware

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/blues/fundledger/internal/apperr"
	"github.com/blues/fundledger/internal/config"
	"github.com/blues/fundledger/internal/logger"
	"github.com/blues/fundledger/internal/model"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const principalKey = "principal"

// Claims 身份服务签发的令牌声明, Subject 为用户 Id
type Claims struct {
	DisplayName   string `json:"display_name,omitempty"`
	WalletAddress string `json:"wallet_address,omitempty"`
	jwt.RegisteredClaims
}

// Auth HS256 令牌认证
type Auth struct {
	secret []byte
	issuer string
}

func NewAuth(cfg config.AuthConfig) *Auth {
	return &Auth{secret: []byte(cfg.JWTSecret), issuer: cfg.Issuer}
}

// Required 必须携带有效令牌
func (a *Auth) Required() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := a.authenticate(c)
		if err != nil {
			logger.Warn("Authentication failed for %s %s: %v", c.Request.Method, c.FullPath(), err)
			abort(c, apperr.Unauthorized("登录已失效，请重新登录"))
			return
		}
		if principal == nil {
			abort(c, apperr.Unauthorized("请先登录"))
			return
		}
		c.Set(principalKey, principal)
		c.Next()
	}
}

// Optional 有令牌时解析, 无令牌时匿名访问
func (a *Auth) Optional() gin.HandlerFunc {
	return func(c *gin.Context) {
		principal, err := a.authenticate(c)
		if err != nil {
			abort(c, apperr.Unauthorized("登录已失效，请重新登录"))
			return
		}
		if principal != nil {
			c.Set(principalKey, principal)
		}
		c.Next()
	}
}

// authenticate 没有 Authorization 头时返回 nil, nil
func (a *Auth) authenticate(c *gin.Context) (*model.Principal, error) {
	header := c.GetHeader("Authorization")
	if header == "" {
		return nil, nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, errors.New("invalid authorization header format")
	}
	claims, err := a.Parse(parts[1])
	if err != nil {
		return nil, err
	}
	return &model.Principal{
		Id:            claims.Subject,
		DisplayName:   claims.DisplayName,
		WalletAddress: claims.WalletAddress,
	}, nil
}

// Parse 校验令牌并返回声明
func (a *Auth) Parse(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}
	if claims.Subject == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}

// Issue 签发令牌, 供命令行工具和测试使用
func (a *Auth) Issue(p model.Principal, ttl time.Duration) (string, error) {
	if p.Id == "" {
		return "", fmt.Errorf("principal id is required")
	}
	now := time.Now()
	claims := &Claims{
		DisplayName:   p.DisplayName,
		WalletAddress: p.WalletAddress,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   p.Id,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// Principal 当前请求的认证用户, 匿名时为 nil
func Principal(c *gin.Context) *model.Principal {
	v, ok := c.Get(principalKey)
	if !ok {
		return nil
	}
	p, _ := v.(*model.Principal)
	return p
}

// abort 以统一响应格式终止请求
func abort(c *gin.Context, err *apperr.Error) {
	c.AbortWithStatusJSON(err.HTTPStatus(), gin.H{
		"success": false,
		"code":    err.Code,
		"message": err.Message,
		"data":    nil,
	})
}
