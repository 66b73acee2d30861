package apns

import (
	"context"
	"fmt"

	"alertflow/conf"
	"alertflow/pkg/logger"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// 鉴权方式：基于token的推送（.p8 密钥）
type Apns struct {
	cfg    *conf.Apns
	client *apns2.Client
}

// NewTokenApns 根据.p8密钥创建APNS客户端
// apnsPrivateKey 是在apple dev官网 - 用户与访问权限中创建的
func NewTokenApns(cfg *conf.Apns) (*Apns, error) {
	authKey, err := token.AuthKeyFromFile(cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to create APNS auth key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   cfg.KeyID,
		TeamID:  cfg.TeamID,
	}).Development()
	if cfg.IsProd {
		client = client.Production()
	}

	return &Apns{cfg: cfg, client: client}, nil
}

// Push 逐个token推送，返回成功和失败数
// 单个token失败不影响其他token，错误只记日志
func (a *Apns) Push(ctx context.Context, tokens []string, title, body string, extra map[string]string) (success, failure int, err error) {
	pl := payload.NewPayload().AlertTitle(title).AlertBody(body).Sound("default")
	for k, v := range extra {
		pl.Custom(k, v)
	}

	for _, tok := range tokens {
		resp, perr := a.client.PushWithContext(ctx, &apns2.Notification{
			DeviceToken: tok,
			Topic:       a.cfg.Topic,
			Payload:     pl.MutableContent(),
		})
		if perr != nil {
			failure++
			logger.Warnf("APNS push error token=%s: %v", tok, perr)
			continue
		}
		if resp.StatusCode != 200 {
			failure++
			logger.Warnf("APNS push failed token=%s: %s", tok, resp.Reason)
			continue
		}
		success++
	}
	return success, failure, nil
}
