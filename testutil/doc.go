/*
Package testutil provides test fixtures for the messaging protocol types.

The package keeps the fixture surface small: a shared test clock, an option
pattern for messaging configs, and generators for update messages. Packages
layered above the protocol (mailbox, simulation, services) build their test
data on these instead of repeating literals.

# Configuration Generators

	// Default messaging config
	config := testutil.NewTestConfig()

	// Customized
	config := testutil.NewTestConfig(
	    testutil.WithRiskModel(protocol.ModelAdditive),
	    testutil.WithTransmission(0.1),
	)

# Message Generators

	// One message
	msg := testutil.GenerateTestMessage(
	    testutil.WithSender(0b1010),
	    testutil.WithReceiver(3),
	)

	// A batch with distinct pseudonyms and staggered timestamps
	msgs := testutil.GenerateTestMessages(8, testutil.WithReceiver(3))

The protocol package itself cannot use these fixtures without an import
cycle; its tests construct values directly.
*/
package testutil
