package virtualize

import "github.com/google/uuid"

var (
	moduleNamespace = uuid.MustParse("5b0f4a44-0d43-4d0c-9a53-2f4c5e0a9b11")
	topicNamespace  = uuid.MustParse("8f6c2d7e-41a9-4b53-b1f2-6e0d9c3a7f20")
)

// VirtualModuleID is stable per (learner, module).
func VirtualModuleID(learnerID, moduleID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(moduleNamespace, []byte(learnerID.String()+"|"+moduleID.String()))
}

// VirtualTopicID is stable per (learner, topic), so a retried materialization
// writes the same rows again instead of a second copy.
func VirtualTopicID(learnerID, topicID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(topicNamespace, []byte(learnerID.String()+"|"+topicID.String()))
}

func VirtualContentUnitID(virtualTopicID, contentUnitID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(virtualTopicID, contentUnitID[:])
}
