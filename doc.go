// Package routingslip provides a routing-slip execution and compensation
// engine.
//
// A routing slip carries an ordered itinerary of activities, a bag of
// variables threaded through every activity, and a log of the activities that
// completed. When an activity faults, the completed activities are
// compensated in strict reverse order, each with the variables as they were
// when it completed.
//
// Overview
//
//  1. Define your activities:
//     - Implement the Activity interface, or use NewActivityFunc to package an
//     execute and a compensate function.
//     - Return Complete(deltas), Fault(err) or Revise(mode, deltas, specs...)
//     from Execute. Wrap transient errors with Retryable.
//  2. Create an ActivityRegistry and register your activities with Register.
//  3. Build a slip:
//     - Use NewRoutingSlipBuilder, AddActivity and AddVariable, then Build.
//     - Unknown activities and bad arguments are reported together as a
//     *ProtocolError before anything runs.
//  4. Run it:
//     - Create an Engine with NewEngine and options such as WithPublisher,
//     WithStore and WithRetryPolicy.
//     - Call Execute, or ExecuteAll for many slips. With a Store, an
//     interrupted slip can be continued with Resume.
//
// Every slip ends with exactly one terminal event: RoutingSlipCompleted,
// RoutingSlipFaulted, or RoutingSlipCompensationFailed when a compensating
// action failed and the slip needs operator attention. RoutingSlipRevised is
// published each time an activity changes the itinerary.
package routingslip
