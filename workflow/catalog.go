package workflow

import (
	"github.com/ronittamrakar/Xordon-sub048/errors"
)

// Kind classifies what the step handler does with a node.
type Kind string

const (
	KindTrigger   Kind = "trigger"   // Entry point, never executed by the dispatcher
	KindAction    Kind = "action"    // Runs an action and follows the single outgoing edge
	KindCondition Kind = "condition" // Evaluates a predicate and picks one outgoing edge
	KindTiming    Kind = "timing"    // Suspends the run by deferred re-scheduling
	KindFlow      Kind = "flow"      // Mutates control flow directly
)

// NodeSpec describes one catalog entry: how the node executes and which
// config fields must be present for it to run at all.
type NodeSpec struct {
	Kind     Kind
	Required []string
}

// Catalog is the static registry of supported node subTypes. The graph
// validator consults it at activation time so a workflow referencing an
// unknown or misconfigured subType is rejected before it can run.
var Catalog = map[string]NodeSpec{
	// Triggers - contact
	"contact_added":      {Kind: KindTrigger},
	"contact_updated":    {Kind: KindTrigger},
	"contact_deleted":    {Kind: KindTrigger},
	"tag_added":          {Kind: KindTrigger},
	"tag_removed":        {Kind: KindTrigger},
	"lead_score_changed": {Kind: KindTrigger},

	// Triggers - email
	"email_opened":       {Kind: KindTrigger},
	"email_clicked":      {Kind: KindTrigger},
	"email_replied":      {Kind: KindTrigger},
	"email_bounced":      {Kind: KindTrigger},
	"email_unsubscribed": {Kind: KindTrigger},
	"email_complained":   {Kind: KindTrigger},

	// Triggers - SMS
	"sms_replied":   {Kind: KindTrigger},
	"sms_delivered": {Kind: KindTrigger},
	"sms_failed":    {Kind: KindTrigger},
	"sms_opted_out": {Kind: KindTrigger},

	// Triggers - call
	"call_completed": {Kind: KindTrigger},
	"call_missed":    {Kind: KindTrigger},
	"voicemail_left": {Kind: KindTrigger},

	// Triggers - form and page
	"form_submitted":          {Kind: KindTrigger},
	"page_visited":            {Kind: KindTrigger},
	"landing_page_conversion": {Kind: KindTrigger},

	// Triggers - e-commerce
	"purchase_made":    {Kind: KindTrigger},
	"cart_abandoned":   {Kind: KindTrigger},
	"product_viewed":   {Kind: KindTrigger},
	"refund_requested": {Kind: KindTrigger},

	// Triggers - date and time
	"date_trigger":        {Kind: KindTrigger},
	"birthday_trigger":    {Kind: KindTrigger},
	"anniversary_trigger": {Kind: KindTrigger},
	"inactivity_trigger":  {Kind: KindTrigger},

	// Triggers - integration
	"webhook_received": {Kind: KindTrigger},
	"api_event":        {Kind: KindTrigger},
	"zapier_trigger":   {Kind: KindTrigger},

	// Triggers - manual
	"manual":        {Kind: KindTrigger},
	"segment_entry": {Kind: KindTrigger},

	// Actions - email
	"send_email":          {Kind: KindAction, Required: []string{"subject"}},
	"send_email_sequence": {Kind: KindAction, Required: []string{"sequence_id"}},

	// Actions - SMS
	"send_sms": {Kind: KindAction, Required: []string{"message"}},

	// Actions - tags
	"add_tag":    {Kind: KindAction, Required: []string{"tag"}},
	"remove_tag": {Kind: KindAction, Required: []string{"tag"}},

	// Actions - contact management
	"update_field":      {Kind: KindAction, Required: []string{"field"}},
	"update_lead_score": {Kind: KindAction, Required: []string{"change"}},
	"change_status":     {Kind: KindAction, Required: []string{"status"}},
	"assign_owner":      {Kind: KindAction, Required: []string{"owner_id"}},
	"copy_to_list":      {Kind: KindAction, Required: []string{"list_id"}},
	"move_to_list":      {Kind: KindAction, Required: []string{"list_id"}},
	"remove_from_list":  {Kind: KindAction, Required: []string{"list_id"}},
	"archive_contact":   {Kind: KindAction},
	"delete_contact":    {Kind: KindAction},

	// Actions - campaign
	"add_to_campaign":      {Kind: KindAction, Required: []string{"campaign_id"}},
	"remove_from_campaign": {Kind: KindAction, Required: []string{"campaign_id"}},

	// Actions - CRM
	"create_task": {Kind: KindAction, Required: []string{"title"}},
	"create_deal": {Kind: KindAction, Required: []string{"name"}},

	// Actions - notification
	"notify_team": {Kind: KindAction, Required: []string{"message"}},

	// Actions - integration
	"webhook":          {Kind: KindAction, Required: []string{"url"}},
	"http_request":     {Kind: KindAction, Required: []string{"url", "method"}},
	"run_code":         {Kind: KindAction, Required: []string{"code", "language"}},
	"ai_assistant":     {Kind: KindAction, Required: []string{"prompt"}},
	"data_transformer": {Kind: KindAction, Required: []string{"mappings"}},
	"set_variable":     {Kind: KindAction, Required: []string{"name"}},
	"track_conversion": {Kind: KindAction, Required: []string{"goal"}},

	// Actions - call
	"make_call":         {Kind: KindAction},
	"schedule_call":     {Kind: KindAction},
	"send_voicemail":    {Kind: KindAction},
	"trigger_call_flow": {Kind: KindAction, Required: []string{"flow_id"}},

	// Flow control
	"go_to_step":    {Kind: KindFlow, Required: []string{"target_step"}},
	"end_flow":      {Kind: KindFlow},
	"start_subflow": {Kind: KindFlow, Required: []string{"workflow_id"}},

	// Conditions
	"if_else":           {Kind: KindCondition, Required: []string{"conditions"}},
	"has_tag":           {Kind: KindCondition, Required: []string{"tag"}},
	"field_value":       {Kind: KindCondition, Required: []string{"field", "operator"}},
	"lead_score":        {Kind: KindCondition, Required: []string{"operator", "value"}},
	"contact_age":       {Kind: KindCondition, Required: []string{"operator", "days"}},
	"list_membership":   {Kind: KindCondition, Required: []string{"list_id"}},
	"contact_owner":     {Kind: KindCondition, Required: []string{"owner_id"}},
	"email_activity":    {Kind: KindCondition, Required: []string{"activity"}},
	"in_campaign":       {Kind: KindCondition, Required: []string{"campaign_id"}},
	"purchase_history":  {Kind: KindCondition, Required: []string{"operator"}},
	"random_split":      {Kind: KindCondition},
	"even_split":        {Kind: KindCondition},
	"time_of_day":       {Kind: KindCondition, Required: []string{"start", "end"}},
	"day_of_week":       {Kind: KindCondition, Required: []string{"days"}},
	"split_test":        {Kind: KindCondition},
	"multivariate_test": {Kind: KindCondition},

	// Timing
	"wait":           {Kind: KindTiming, Required: []string{"duration", "unit"}},
	"wait_until":     {Kind: KindTiming},
	"wait_for_event": {Kind: KindTiming, Required: []string{"event"}},
	"smart_delay":    {Kind: KindTiming},
	"business_hours": {Kind: KindTiming},
}

// NodeKind returns the catalog kind for a subType.
func NodeKind(subType string) (Kind, bool) {
	spec, ok := Catalog[subType]
	return spec.Kind, ok
}

// ValidateGraph checks a workflow graph against the catalog before
// activation: every subType known, required config fields present, edges
// referencing real nodes, at least one trigger, and condition nodes with
// at least two outgoing edges. Returns the first problem found.
func ValidateGraph(g *Graph) error {
	if len(g.Nodes) == 0 {
		return errors.Wrap(errors.ErrInvalidRequest, "workflow graph has no nodes")
	}

	seen := make(map[string]bool, len(g.Nodes))
	for i := range g.Nodes {
		node := &g.Nodes[i]
		if node.ID == "" {
			return errors.Wrap(errors.ErrInvalidRequest, "workflow node missing id")
		}
		if seen[node.ID] {
			return errors.Wrapf(errors.ErrInvalidRequest, "duplicate node id %q", node.ID)
		}
		seen[node.ID] = true

		spec, ok := Catalog[node.SubType]
		if !ok {
			return errors.Wrapf(errors.ErrInvalidRequest, "node %s has unknown sub type %q", node.ID, node.SubType)
		}

		if len(spec.Required) > 0 {
			data, err := node.DataMap()
			if err != nil {
				return err
			}
			for _, field := range spec.Required {
				if _, present := data[field]; !present {
					return errors.Wrapf(errors.ErrInvalidRequest,
						"node %s (%s) missing required config field %q", node.ID, node.SubType, field)
				}
			}
		}
	}

	for _, e := range g.Edges {
		if !seen[e.From] {
			return errors.Wrapf(errors.ErrInvalidRequest, "edge references unknown node %q", e.From)
		}
		if !seen[e.To] {
			return errors.Wrapf(errors.ErrInvalidRequest, "edge references unknown node %q", e.To)
		}
	}

	if len(g.TriggerNodes()) == 0 {
		return errors.Wrap(errors.ErrInvalidRequest, "workflow graph has no trigger node")
	}

	for i := range g.Nodes {
		node := &g.Nodes[i]
		spec := Catalog[node.SubType]
		if spec.Kind == KindCondition && len(g.OutgoingEdges(node.ID)) < 2 {
			return errors.Wrapf(errors.ErrInvalidRequest,
				"condition node %s (%s) needs at least two outgoing edges", node.ID, node.SubType)
		}
	}

	return nil
}
