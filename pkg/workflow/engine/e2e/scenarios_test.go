package e2e

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/engine"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/model"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store"
	"github.com/clydewatts1/chameleon-workflow-engine/pkg/workflow/store/memstore"
)

// guardedBlueprint builds an ALPHA->BETA workflow with an EPSILON ate-path
// role, and a guardian on BETA's inbound component whose pass/fail behavior
// is controlled per-test via the guardian's Config.
func guardedBlueprint(guardianType model.GuardianType, guardianConfig map[string]interface{}) store.Blueprint {
	alpha := model.Role{ID: "bp-role-alpha", Type: model.RoleAlpha, Name: "intake"}
	beta := model.Role{ID: "bp-role-beta", Type: model.RoleBeta, Name: "reviewer"}
	epsilon := model.Role{ID: "bp-role-epsilon", Type: model.RoleEpsilon, Name: "ate-path"}

	queue := model.Interaction{ID: "bp-interaction-1", Name: "intake-to-review"}
	ateQueue := model.Interaction{ID: "bp-interaction-ate", Name: "ate-path-queue"}

	compOut := model.Component{ID: "bp-comp-out", InteractionID: queue.ID, RoleID: alpha.ID, Direction: model.DirectionOutbound}
	compIn := model.Component{ID: "bp-comp-in", InteractionID: queue.ID, RoleID: beta.ID, Direction: model.DirectionInbound}
	compAteIn := model.Component{ID: "bp-comp-ate-in", InteractionID: ateQueue.ID, RoleID: epsilon.ID, Direction: model.DirectionInbound}

	var guardians []model.Guardian
	if guardianType != "" {
		guardians = append(guardians, model.Guardian{
			ID:          "bp-guard-1",
			ComponentID: compIn.ID,
			Type:        guardianType,
			Config:      guardianConfig,
		})
	}

	return store.Blueprint{
		Workflow:     model.Workflow{ID: "bp-wf-1", Name: "linear"},
		Roles:        []model.Role{alpha, beta, epsilon},
		Interactions: []model.Interaction{queue, ateQueue},
		Components:   []model.Component{compOut, compIn, compAteIn},
		Guardians:    guardians,
	}
}

// resolveRole resolves roleType's running-instance id and seeds active
// assignments for both actors this suite checks work out with, since
// CloneIntoInstance mints fresh instance-scoped role ids that never match
// a blueprint-tier assignment. The cloned workflow id is read off the
// instance's PENDING unit of work, so it must be called before checkout.
func resolveRole(ms *memstore.MemStore, instanceID string, roleType model.RoleType) string {
	pending, err := ms.FindByStatus(context.Background(), model.StatusPending, instanceID)
	Expect(err).NotTo(HaveOccurred())
	Expect(pending).NotTo(BeEmpty())
	role, ok, err := ms.RoleByType(context.Background(), pending[0].WorkflowID, roleType)
	Expect(err).NotTo(HaveOccurred())
	Expect(ok).To(BeTrue())
	for _, actorID := range []string{"actor-1", "actor-2"} {
		ms.SeedAssignment(model.ActorRoleAssignment{
			ID: actorID + "|" + role.ID, ActorID: actorID, RoleID: role.ID, Status: model.AssignmentActive,
		})
	}
	return role.ID
}

var _ = Describe("workflow lifecycle", func() {
	var (
		ctx context.Context
		ms  *memstore.MemStore
		eng *engine.Engine
	)

	BeforeEach(func() {
		ctx = context.Background()
	})

	Context("a unit of work that passes its guard", func() {
		BeforeEach(func() {
			ms = memstore.New()
			ms.SeedBlueprint(guardedBlueprint(model.GuardPassThru, nil))
			eng = engine.New(ms)
		})

		It("flows from instantiation through checkout to a learned submission", func() {
			instanceID, alphaUOWID, err := eng.InstantiateWorkflow(ctx, "bp-wf-1", map[string]interface{}{"amount": 42.0}, "actor-seed")
			Expect(err).NotTo(HaveOccurred())
			Expect(instanceID).NotTo(BeEmpty())
			Expect(alphaUOWID).NotTo(BeEmpty())

			betaRoleID := resolveRole(ms, instanceID, model.RoleBeta)

			work, err := eng.CheckoutWork(ctx, "actor-1", betaRoleID)
			Expect(err).NotTo(HaveOccurred())
			Expect(work).NotTo(BeNil())
			Expect(work.UOWID).To(Equal(alphaUOWID))
			Expect(work.Attributes).To(HaveKeyWithValue("amount", 42.0))

			Expect(eng.Heartbeat(ctx, work.UOWID, "actor-1")).To(Succeed())

			err = eng.SubmitWork(ctx, work.UOWID, "actor-1", map[string]interface{}{
				"decision":                   "approved",
				model.ReservedLearnedRuleKey: map[string]interface{}{"key": "threshold", "value": 42.0},
			}, "looks fine")
			Expect(err).NotTo(HaveOccurred())

			full, err := ms.Get(ctx, work.UOWID)
			Expect(err).NotTo(HaveOccurred())
			Expect(full.UOW.Status).To(Equal(model.StatusCompleted))
			Expect(full.Attributes).To(HaveKeyWithValue("decision", "approved"))

			learned, err := eng.GetMemory(ctx, instanceID, betaRoleID, "actor-1", "threshold")
			Expect(err).NotTo(HaveOccurred())
			Expect(learned).NotTo(BeEmpty())
		})

		It("re-checking out once the queue is drained returns nothing", func() {
			instanceID, alphaUOWID, err := eng.InstantiateWorkflow(ctx, "bp-wf-1", nil, "actor-seed")
			Expect(err).NotTo(HaveOccurred())
			betaRoleID := resolveRole(ms, instanceID, model.RoleBeta)

			work, err := eng.CheckoutWork(ctx, "actor-1", betaRoleID)
			Expect(err).NotTo(HaveOccurred())
			Expect(work.UOWID).To(Equal(alphaUOWID))

			again, err := eng.CheckoutWork(ctx, "actor-2", betaRoleID)
			Expect(err).NotTo(HaveOccurred())
			Expect(again).To(BeNil())
		})
	})

	Context("a unit of work that fails its guard", func() {
		BeforeEach(func() {
			ms = memstore.New()
			ms.SeedBlueprint(guardedBlueprint(model.GuardCriteriaGate, map[string]interface{}{
				"field": "amount", "op": "GT", "threshold": 100.0,
			}))
			eng = engine.New(ms)
		})

		It("routes the rejected unit of work to the ate path instead of handing it out", func() {
			instanceID, alphaUOWID, err := eng.InstantiateWorkflow(ctx, "bp-wf-1", map[string]interface{}{"amount": 10.0}, "actor-seed")
			Expect(err).NotTo(HaveOccurred())
			betaRoleID := resolveRole(ms, instanceID, model.RoleBeta)
			epsilonRoleID := resolveRole(ms, instanceID, model.RoleEpsilon)

			work, err := eng.CheckoutWork(ctx, "actor-1", betaRoleID)
			Expect(err).NotTo(HaveOccurred())
			Expect(work).To(BeNil(), "a criteria gate the attributes fail should reject checkout")

			full, err := ms.Get(ctx, alphaUOWID)
			Expect(err).NotTo(HaveOccurred())
			Expect(full.UOW.Status).To(Equal(model.StatusFailed))

			ateInbound, err := ms.InboundComponents(ctx, epsilonRoleID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ateInbound).NotTo(BeEmpty())
			Expect(full.UOW.CurrentInteractionID).To(Equal(ateInbound[0].InteractionID))
		})
	})

	Context("an actor reporting explicit failure", func() {
		BeforeEach(func() {
			ms = memstore.New()
			ms.SeedBlueprint(guardedBlueprint(model.GuardPassThru, nil))
			eng = engine.New(ms)
		})

		It("fails the unit of work and routes it to the ate path", func() {
			instanceID, _, err := eng.InstantiateWorkflow(ctx, "bp-wf-1", nil, "actor-seed")
			Expect(err).NotTo(HaveOccurred())
			betaRoleID := resolveRole(ms, instanceID, model.RoleBeta)
			epsilonRoleID := resolveRole(ms, instanceID, model.RoleEpsilon)

			work, err := eng.CheckoutWork(ctx, "actor-1", betaRoleID)
			Expect(err).NotTo(HaveOccurred())
			Expect(work).NotTo(BeNil())

			Expect(eng.ReportFailure(ctx, work.UOWID, "actor-1", "VALIDATION_ERROR", "amount missing")).To(Succeed())

			full, err := ms.Get(ctx, work.UOWID)
			Expect(err).NotTo(HaveOccurred())
			Expect(full.UOW.Status).To(Equal(model.StatusFailed))

			ateInbound, err := ms.InboundComponents(ctx, epsilonRoleID)
			Expect(err).NotTo(HaveOccurred())
			Expect(ateInbound).NotTo(BeEmpty())
			Expect(full.UOW.CurrentInteractionID).To(Equal(ateInbound[0].InteractionID))
		})
	})
})
