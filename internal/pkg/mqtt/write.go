package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gosimple/slug"

	"github.com/pharmabot/dispenser-controller/internal/pkg/publisher"
)

// PublishEvent pushes the event onto the owner's topic so dashboards and
// companion apps can subscribe without polling the API.
func (s *service) PublishEvent(_ context.Context, event publisher.Event) error {
	topic := fmt.Sprintf("pharmabot/%s/events/%s", slug.Make(event.OwnerID), slug.Make(event.Kind.String()))

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	token := s.client.Publish(topic, 1, false, payload)
	if res := token.WaitTimeout(time.Second * 10); res {
		return nil
	}
	if err := token.Error(); err != nil {
		return err
	}
	return nil
}
